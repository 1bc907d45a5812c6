// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/term"

	"github.com/octobridge/octobridge/internal/config"
	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/router"
	"github.com/octobridge/octobridge/internal/transport"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config *config.Config
	Client *transport.Client
	Output *output.Writer
	Logger *slog.Logger

	// Flags holds the global flag values
	Flags GlobalFlags

	stdout io.Writer
	stderr io.Writer
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON   bool
	Quiet  bool
	Styled bool
	JQ     string

	// Daemon address for client commands
	Server string

	// Behavior flags
	Verbose      int // 0=off, 1=messages, 2=messages+upstream requests
	StoreBackend string
	LogFormat    string
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config) *App {
	return NewAppWithIO(cfg, os.Stdout, os.Stderr)
}

// NewAppWithIO creates an App that prints to stdout and logs to stderr.
func NewAppWithIO(cfg *config.Config, stdout, stderr io.Writer) *App {
	return &App{
		Config: cfg,
		Client: transport.NewClient(cfg.ListenAddr, nil),
		Output: output.New(output.Options{Format: output.FormatAuto, Writer: stdout}),
		Logger: NewLogger(stderr, cfg.LogLevel, cfg.LogFormat, 0),
		stdout: stdout,
		stderr: stderr,
	}
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() {
	format := output.FormatAuto
	switch {
	case a.Flags.Quiet:
		format = output.FormatQuiet
	case a.Flags.JSON:
		format = output.FormatJSON
	case a.Flags.Styled:
		format = output.FormatStyled
	}
	a.Output = output.New(output.Options{Format: format, Writer: a.stdout, JQ: a.Flags.JQ})

	if a.Flags.Server != "" {
		a.Client = transport.NewClient(a.Flags.Server, nil)
	}

	a.Logger = NewLogger(a.stderr, a.Config.LogLevel, a.Config.LogFormat, a.Verbosity())
}

// Verbosity combines -v flags with OCTOBRIDGE_DEBUG ("1", "2" or "true").
func (a *App) Verbosity() int {
	level := a.Flags.Verbose
	if debugEnv := os.Getenv("OCTOBRIDGE_DEBUG"); debugEnv != "" {
		if n, err := strconv.Atoi(debugEnv); err == nil {
			level = max(level, n)
		} else if debugEnv == "true" {
			level = 2
		}
	}
	return level
}

// Send delivers a message to the daemon and prints the envelope. A failed
// envelope is returned as an error so the process exits non-zero; it is not
// printed here.
func (a *App) Send(ctx context.Context, req router.Request, summary func(*output.Envelope) string) error {
	env, err := a.Client.Send(ctx, req)
	if err != nil {
		return err
	}
	a.Logger.Debug("daemon replied", "action", req.Action, "success", env.Success, "request_id", env.RequestID)
	if !env.Success {
		return env.Err()
	}
	s := ""
	if summary != nil {
		s = summary(env)
	}
	return a.Output.Write(env, s)
}

// Err outputs an error response.
func (a *App) Err(err error) error {
	return a.Output.Err(err)
}

// Stderr is where progress messages go.
func (a *App) Stderr() io.Writer {
	return a.stderr
}

// IsInteractive returns true if stdout is a terminal and no machine-output mode is set.
func (a *App) IsInteractive() bool {
	if a.Flags.JSON || a.Flags.Quiet || a.Flags.JQ != "" {
		return false
	}
	f, ok := a.stdout.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// NewLogger builds the process logger. verbose > 0 forces debug level.
func NewLogger(w io.Writer, level, format string, verbose int) *slog.Logger {
	lvl := ParseLevel(level)
	if verbose > 0 {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
