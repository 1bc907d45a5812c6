package appctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octobridge/octobridge/internal/config"
	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/router"
)

func testApp(t *testing.T) (*App, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	return NewAppWithIO(config.Default(), &stdout, &stderr), &stdout, &stderr
}

// daemon serves envelopes from fn the way the real transport does.
func daemon(t *testing.T, fn func(router.Request) *output.Envelope) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req router.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fn(req))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestNewApp(t *testing.T) {
	cfg := config.Default()
	app := NewApp(cfg)

	if app == nil {
		t.Fatal("NewApp returned nil")
	}
	if app.Config != cfg {
		t.Error("Config not set correctly")
	}
	if app.Client == nil {
		t.Error("daemon client not initialized")
	}
	if app.Output == nil {
		t.Error("Output writer not initialized")
	}
	assert.Equal(t, "http://127.0.0.1:8975", app.Client.BaseURL())
}

func TestWithAppAndFromContext(t *testing.T) {
	app := NewApp(config.Default())
	ctx := WithApp(context.Background(), app)

	if FromContext(ctx) != app {
		t.Error("FromContext did not retrieve the same app")
	}
}

func TestFromContextEmpty(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("expected nil from empty context")
	}
}

func TestApplyFlagsServerOverride(t *testing.T) {
	app, _, _ := testApp(t)
	app.Flags.Server = "127.0.0.1:1234"
	app.ApplyFlags()
	assert.Equal(t, "http://127.0.0.1:1234", app.Client.BaseURL())
}

func TestVerbosityFromEnv(t *testing.T) {
	app, _, _ := testApp(t)

	t.Setenv("OCTOBRIDGE_DEBUG", "")
	assert.Equal(t, 0, app.Verbosity())

	app.Flags.Verbose = 1
	assert.Equal(t, 1, app.Verbosity())

	t.Setenv("OCTOBRIDGE_DEBUG", "2")
	assert.Equal(t, 2, app.Verbosity())

	app.Flags.Verbose = 0
	t.Setenv("OCTOBRIDGE_DEBUG", "true")
	assert.Equal(t, 2, app.Verbosity())
}

func TestApplyFlagsVerboseEnablesDebugLogging(t *testing.T) {
	app, _, stderr := testApp(t)
	t.Setenv("OCTOBRIDGE_DEBUG", "")

	app.Logger.Debug("hidden")
	assert.Empty(t, stderr.String())

	app.Flags.Verbose = 1
	app.ApplyFlags()
	app.Logger.Debug("shown")
	assert.Contains(t, stderr.String(), "shown")
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "warn", "json", 0).Warn("careful", "k", "v")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "careful", m["msg"])
	assert.Equal(t, "v", m["k"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestSendWritesSuccessEnvelope(t *testing.T) {
	ts := daemon(t, func(req router.Request) *output.Envelope {
		assert.Equal(t, router.ActionGetRepositories, req.Action)
		return output.Success(output.WithData(json.RawMessage(`[{"full_name":"o/r"}]`)))
	})

	app, stdout, _ := testApp(t)
	app.Flags.JSON = true
	app.Flags.Server = ts.URL
	app.ApplyFlags()

	require.NoError(t, app.Send(context.Background(), router.Request{Action: router.ActionGetRepositories}, nil))

	var env output.Envelope
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
	assert.True(t, env.Success)
	assert.JSONEq(t, `[{"full_name":"o/r"}]`, string(env.Data))
}

func TestSendReturnsFailedEnvelopeAsError(t *testing.T) {
	ts := daemon(t, func(router.Request) *output.Envelope {
		return output.Failure(output.ErrAuth("authentication required"))
	})

	app, stdout, _ := testApp(t)
	app.Flags.Quiet = true
	app.Flags.Server = ts.URL
	app.ApplyFlags()

	err := app.Send(context.Background(), router.Request{Action: router.ActionGetIssues}, nil)
	require.Error(t, err)
	assert.Equal(t, output.CodeAuth, output.AsError(err).Code)
	assert.Equal(t, output.ExitAuth, output.AsError(err).ExitCode())
	assert.Empty(t, stdout.String(), "failure is printed once by the caller")
}

func TestSendQuietPrintsPayloadOnly(t *testing.T) {
	ts := daemon(t, func(router.Request) *output.Envelope {
		return output.Success(output.WithToken("tok_xyz"), output.WithUser(json.RawMessage(`{"login":"octo"}`)))
	})

	app, stdout, _ := testApp(t)
	app.Flags.Quiet = true
	app.Flags.Server = ts.URL
	app.ApplyFlags()

	require.NoError(t, app.Send(context.Background(), router.Request{Action: router.ActionAuthenticate}, nil))
	assert.Equal(t, "tok_xyz", strings.TrimSpace(stdout.String()))
}

func TestErrWritesFailureEnvelope(t *testing.T) {
	app, stdout, _ := testApp(t)
	app.Flags.JSON = true
	app.ApplyFlags()

	require.NoError(t, app.Err(output.ErrUsage("bad")))

	var env output.Envelope
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, "usage", env.Code)
}

func TestIsInteractiveFalseForBuffers(t *testing.T) {
	app, _, _ := testApp(t)
	assert.False(t, app.IsInteractive())
}
