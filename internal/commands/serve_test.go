package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octobridge/octobridge/internal/appctx"
	"github.com/octobridge/octobridge/internal/auth"
	"github.com/octobridge/octobridge/internal/config"
	"github.com/octobridge/octobridge/internal/credential"
	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/settings"
)

const goodCode = "good-code"

// fakeGitHub serves the token endpoint and the REST resources the gateway uses.
type fakeGitHub struct {
	*httptest.Server

	mu      sync.Mutex
	patched []string
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{}

	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "token tok_xyz" {
			http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
			return false
		}
		return true
	}
	jsonBody := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["code"] != goodCode {
			jsonBody(w, `{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`)
			return
		}
		jsonBody(w, `{"access_token":"tok_xyz","token_type":"bearer","scope":"repo,user,read:org"}`)
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if authorized(w, r) {
			jsonBody(w, `{"login":"octo","name":"Octo Cat","id":1}`)
		}
	})
	mux.HandleFunc("GET /user/repos", func(w http.ResponseWriter, r *http.Request) {
		if authorized(w, r) {
			jsonBody(w, `[{"full_name":"octo/one"},{"full_name":"octo/two"}]`)
		}
	})
	mux.HandleFunc("GET /issues", func(w http.ResponseWriter, r *http.Request) {
		if authorized(w, r) {
			jsonBody(w, `[{"number":7,"title":"Broken"}]`)
		}
	})
	mux.HandleFunc("GET /notifications", func(w http.ResponseWriter, r *http.Request) {
		if authorized(w, r) {
			jsonBody(w, `[{"id":"42","unread":true}]`)
		}
	})
	mux.HandleFunc("PATCH /notifications/threads/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		f.mu.Lock()
		f.patched = append(f.patched, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusResetContent)
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGitHub) Patched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.patched...)
}

type testDaemon struct {
	*daemon
	addr   string
	dir    string
	opened chan string
}

func startDaemon(t *testing.T, gh *fakeGitHub) *testDaemon {
	t.Helper()

	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.StoreBackend = credential.BackendMemory
	cfg.CallbackPort = 0
	cfg.APIBaseURL = gh.URL
	cfg.AuthorizeURL = gh.URL + "/login/oauth/authorize"
	cfg.TokenURL = gh.URL + "/login/oauth/access_token"
	cfg.ClientID = "Iv1configclient00000"
	cfg.ClientSecret = "configsecret"
	cfg.AuthTimeout = 5 * time.Second

	td := &testDaemon{dir: t.TempDir(), opened: make(chan string, 4)}

	ctx, cancel := context.WithCancel(context.Background())
	d, err := newDaemon(ctx, cfg, nil, daemonOptions{
		Dir: td.dir,
		Opener: func(u string) error {
			td.opened <- u
			return nil
		},
	})
	if err != nil {
		cancel()
		t.Fatalf("newDaemon: %v", err)
	}
	td.daemon = d

	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()
	select {
	case <-d.server.Ready():
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("daemon never listened")
	}
	td.addr = d.server.Addr()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return td
}

// approve plays the browser: once the consent URL is opened and the attempt
// is waiting, it follows the provider redirect back to the callback.
func (td *testDaemon) approve(code string) {
	go func() {
		consent, err := url.Parse(<-td.opened)
		if err != nil {
			return
		}
		q := consent.Query()

		deadline := time.Now().Add(5 * time.Second)
		for td.controller.State() != auth.StatePending && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		redirect := q.Get("redirect_uri") + "?code=" + url.QueryEscape(code) + "&state=" + url.QueryEscape(q.Get("state"))
		if resp, err := http.Get(redirect); err == nil {
			resp.Body.Close()
		}
	}()
}

func clientRoot() *cobra.Command {
	root := &cobra.Command{Use: "octobridge", SilenceErrors: true, SilenceUsage: true}
	root.AddCommand(
		NewAuthCmd(),
		NewReposCmd(),
		NewIssuesCmd(),
		NewNotificationsCmd(),
		NewSettingsCmd(),
		NewCacheCmd(),
		NewSendCmd(),
	)
	return root
}

// runCLI runs a client command against addr with JSON output and returns stdout.
func runCLI(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer

	app := appctx.NewAppWithIO(config.Default(), &stdout, &stderr)
	app.Flags = appctx.GlobalFlags{JSON: true, Server: addr}
	app.ApplyFlags()

	root := clientRoot()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(appctx.WithApp(context.Background(), app))
	return stdout.String(), err
}

func runEnvelope(t *testing.T, addr string, args ...string) *output.Envelope {
	t.Helper()
	out, err := runCLI(t, addr, args...)
	require.NoError(t, err, "octobridge %s", strings.Join(args, " "))
	var env output.Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	return &env
}

func errCode(err error) string {
	if err == nil {
		return ""
	}
	return output.AsError(err).Code
}

func TestDaemonSignInFetchAndSignOut(t *testing.T) {
	gh := newFakeGitHub(t)
	td := startDaemon(t, gh)

	env := runEnvelope(t, td.addr, "auth", "status")
	assert.True(t, env.Success)
	assert.JSONEq(t, `null`, string(env.User))

	_, err := runCLI(t, td.addr, "repos")
	assert.Equal(t, output.CodeAuth, errCode(err), "no token means no upstream call")

	td.approve(goodCode)
	env = runEnvelope(t, td.addr, "auth", "login")
	assert.Equal(t, "tok_xyz", env.Token)
	assert.Equal(t, "octo", userLogin(env))
	assert.Equal(t, auth.StateIdle, td.controller.State())

	env = runEnvelope(t, td.addr, "auth", "status")
	assert.Equal(t, "octo", userLogin(env))
	assert.Empty(t, env.Token, "getUser never returns the token")

	env = runEnvelope(t, td.addr, "repos")
	assert.JSONEq(t, `[{"full_name":"octo/one"},{"full_name":"octo/two"}]`, string(env.Data))

	env = runEnvelope(t, td.addr, "issues")
	assert.JSONEq(t, `[{"number":7,"title":"Broken"}]`, string(env.Data))

	env = runEnvelope(t, td.addr, "notifications")
	assert.JSONEq(t, `[{"id":"42","unread":true}]`, string(env.Data))

	env = runEnvelope(t, td.addr, "notifications", "read", "42")
	assert.True(t, env.Success)
	assert.Equal(t, []string{"42"}, gh.Patched())

	runEnvelope(t, td.addr, "auth", "logout")
	env = runEnvelope(t, td.addr, "auth", "status")
	assert.False(t, env.HasUser())

	_, err = runCLI(t, td.addr, "notifications", "read", "43")
	assert.Equal(t, output.CodeAuth, errCode(err))
	assert.Equal(t, []string{"42"}, gh.Patched())
}

func TestDaemonRejectedCodeLeavesStoreEmpty(t *testing.T) {
	td := startDaemon(t, newFakeGitHub(t))

	td.approve("stale-code")
	_, err := runCLI(t, td.addr, "auth", "login")
	require.Error(t, err)
	e := output.AsError(err)
	assert.Equal(t, output.CodeAuthFlow, e.Code)
	assert.Contains(t, e.Message, "incorrect or expired")

	cred, err := td.store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestDaemonSettingsLifecycle(t *testing.T) {
	td := startDaemon(t, newFakeGitHub(t))
	assert.Equal(t, "Iv1configclient00000", td.controller.ClientID())

	env := runEnvelope(t, td.addr, "settings", "set",
		"client_id=Iv1abcdefghijklmnopq",
		"client_secret="+strings.Repeat("a1", 20),
		"refresh_interval=5",
	)
	var saved settings.Settings
	require.NoError(t, json.Unmarshal(env.Data, &saved))
	assert.Equal(t, 5, saved.RefreshInterval)
	assert.Equal(t, settings.Redacted, saved.ClientSecret)
	assert.Equal(t, "Iv1abcdefghijklmnopq", td.controller.ClientID(), "saved client id applies immediately")

	// Changing another key round-trips the redacted secret without losing it.
	runEnvelope(t, td.addr, "settings", "set", "notify_comments=true")
	onDisk, err := td.settings.Load()
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a1", 20), onDisk.ClientSecret)
	assert.True(t, onDisk.NotifyComments)

	_, err = runCLI(t, td.addr, "settings", "set", "refresh_interval=0")
	assert.Equal(t, output.CodeUsage, errCode(err))

	_, err = runCLI(t, td.addr, "settings", "set", "colour=blue")
	assert.Equal(t, output.CodeUsage, errCode(err))

	env = runEnvelope(t, td.addr, "settings", "reset")
	require.NoError(t, json.Unmarshal(env.Data, &saved))
	assert.Equal(t, settings.Defaults(), saved)
	assert.Equal(t, "Iv1configclient00000", td.controller.ClientID(), "reset falls back to config")
}

func TestDaemonExportOmitsToken(t *testing.T) {
	td := startDaemon(t, newFakeGitHub(t))
	td.approve(goodCode)
	runEnvelope(t, td.addr, "auth", "login")

	out, err := runCLI(t, td.addr, "settings", "export", "-o", "-")
	require.NoError(t, err)
	assert.NotContains(t, out, "tok_xyz")
	var export map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &export))
	assert.Equal(t, true, export["authenticated"])

	dir := t.TempDir()
	_, err = runCLI(t, td.addr, "settings", "export", "--format", "yaml", "-o", dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, exportFileName(time.Now(), "yaml")))
	require.NoError(t, err)
	assert.Contains(t, string(data), "login: octo")
	assert.Contains(t, string(data), "refresh_interval: 10")
	assert.NotContains(t, string(data), "tok_xyz")
}

func TestDaemonClearCacheAndUnknownAction(t *testing.T) {
	td := startDaemon(t, newFakeGitHub(t))
	td.approve(goodCode)
	runEnvelope(t, td.addr, "auth", "login")

	runEnvelope(t, td.addr, "cache", "clear")
	env := runEnvelope(t, td.addr, "auth", "status")
	assert.False(t, env.HasUser())

	_, err := runCLI(t, td.addr, "send", "selfDestruct")
	e := output.AsError(err)
	assert.Equal(t, output.CodeUnknownAction, e.Code)
	assert.Equal(t, "Unknown action", e.Message)

	_, err = runCLI(t, td.addr, "send", "markNotificationAsRead")
	assert.Equal(t, output.CodeUsage, errCode(err))

	env = runEnvelope(t, td.addr, "send", "getSettings", "--data", `{"action":"ignored"}`)
	assert.True(t, env.Success)
}

func TestDaemonServesMetrics(t *testing.T) {
	td := startDaemon(t, newFakeGitHub(t))
	runEnvelope(t, td.addr, "auth", "status")

	resp, err := http.Get("http://" + td.addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `octobridge_router_requests_total{action="getUser",outcome="ok"} 1`)
}

func TestClientCredentialsPreferSettings(t *testing.T) {
	cfg := config.Default()
	cfg.ClientID, cfg.ClientSecret = "cfg-id", "cfg-secret"

	id, secret := clientCredentials(cfg, settings.Defaults())
	assert.Equal(t, "cfg-id", id)
	assert.Equal(t, "cfg-secret", secret)

	s := settings.Defaults()
	s.ClientID = "settings-id"
	id, secret = clientCredentials(cfg, s)
	assert.Equal(t, "settings-id", id)
	assert.Equal(t, "cfg-secret", secret)
}

func TestNewDaemonRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.StoreBackend = "floppy"
	_, err := newDaemon(context.Background(), cfg, nil, daemonOptions{Dir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floppy")
}

func TestDaemonUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	_, err := runCLI(t, addr, "repos")
	e := output.AsError(err)
	assert.Equal(t, output.CodeNetwork, e.Code)
	assert.Equal(t, output.ExitNetwork, e.ExitCode())
}
