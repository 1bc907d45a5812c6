// Package router dispatches inbound messages to the credential store, the
// authorization controller, the GitHub gateway and the settings store, and
// packages every outcome in the same envelope.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/octobridge/octobridge/internal/credential"
	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/settings"
)

// Authenticator runs an authorization attempt.
type Authenticator interface {
	Authenticate(ctx context.Context) (*credential.Credential, error)
}

// Gateway fetches GitHub resources with the stored token.
type Gateway interface {
	Repositories(ctx context.Context) (json.RawMessage, error)
	Issues(ctx context.Context) (json.RawMessage, error)
	Notifications(ctx context.Context) (json.RawMessage, error)
	MarkNotificationRead(ctx context.Context, threadID string) error
}

// SettingsStore persists the options bag.
type SettingsStore interface {
	Load() (settings.Settings, error)
	Save(next settings.Settings) (settings.Settings, error)
	Reset() (settings.Settings, error)
}

// Observer is told about every produced envelope. outcome is "ok" or the error code.
type Observer interface {
	OnMessage(action, outcome string, d time.Duration)
}

// Result is what a handler produced. The adapter turns it into an envelope.
type Result struct {
	Data  any
	Token string
	User  *credential.UserProfile

	// WithUser puts the user field in the envelope even when User is nil.
	WithUser bool
}

type handler func(ctx context.Context, req Request) (Result, error)

// Router maps actions to handlers.
type Router struct {
	auth     Authenticator
	store    credential.Store
	gateway  Gateway
	settings SettingsStore

	onSettings func(settings.Settings)
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time

	handlers map[Action]handler
}

// Option configures a Router.
type Option func(*Router)

// WithSettingsListener is called with the new settings after every save, reset
// or settingsUpdated message.
func WithSettingsListener(fn func(settings.Settings)) Option {
	return func(r *Router) { r.onSettings = fn }
}

// WithObserver installs a per-message observer.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// New wires the router to its collaborators.
func New(auth Authenticator, store credential.Store, gateway Gateway, st SettingsStore, opts ...Option) *Router {
	r := &Router{
		auth:     auth,
		store:    store,
		gateway:  gateway,
		settings: st,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.handlers = map[Action]handler{
		ActionAuthenticate:           r.authenticate,
		ActionLogout:                 r.logout,
		ActionGetUser:                r.getUser,
		ActionGetRepositories:        r.fetch(r.gateway.Repositories),
		ActionGetIssues:              r.fetch(r.gateway.Issues),
		ActionGetNotifications:       r.fetch(r.gateway.Notifications),
		ActionMarkNotificationAsRead: r.markNotificationAsRead,
		ActionGetSettings:            r.getSettings,
		ActionSaveSettings:           r.saveSettings,
		ActionResetSettings:          r.resetSettings,
		ActionSettingsUpdated:        r.settingsUpdated,
		ActionClearCache:             r.clearCache,
		ActionExportData:             r.exportData,
	}
	return r
}

type requestIDKey struct{}

// WithRequestID attaches a request id for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id attached by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Dispatch handles one message. It never returns nil and never panics.
func (r *Router) Dispatch(ctx context.Context, req Request) (env *output.Envelope) {
	start := r.now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked", "action", req.Action, "request_id", RequestID(ctx), "panic", p)
			env = output.Failure(&output.Error{Code: output.CodeInternal, Message: "internal error", Cause: fmt.Errorf("panic: %v", p)})
		}
		env.RequestID = RequestID(ctx)
		r.observe(ctx, req.Action, env, r.now().Sub(start))
	}()

	h, ok := r.handlers[req.Action]
	if !ok {
		return output.Failure(output.ErrUnknownAction())
	}

	res, err := h(ctx, req)
	if err != nil {
		return output.Failure(err)
	}
	return envelope(res)
}

func (r *Router) observe(ctx context.Context, action Action, env *output.Envelope, d time.Duration) {
	outcome := "ok"
	if !env.Success {
		outcome = env.Code
	}
	attrs := []any{"action", action, "request_id", RequestID(ctx), "outcome", outcome, "duration", d}
	if env.Success {
		r.logger.Debug("message handled", attrs...)
	} else {
		r.logger.Warn("message failed", append(attrs, "error", env.Error)...)
	}
	if r.observer != nil {
		r.observer.OnMessage(string(action), outcome, d)
	}
}

func envelope(res Result) *output.Envelope {
	var opts []output.EnvelopeOption
	if res.Data != nil {
		raw, ok := res.Data.(json.RawMessage)
		if !ok {
			b, err := json.Marshal(res.Data)
			if err != nil {
				return output.Failure(&output.Error{Code: output.CodeInternal, Message: "encode response", Cause: err})
			}
			raw = b
		}
		opts = append(opts, output.WithData(raw))
	}
	if res.Token != "" {
		opts = append(opts, output.WithToken(res.Token))
	}
	if res.WithUser || res.User != nil {
		opts = append(opts, output.WithUser(res.User.Raw()))
	}
	return output.Success(opts...)
}
