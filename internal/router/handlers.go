package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/settings"
	"github.com/octobridge/octobridge/internal/version"
)

// Export is the payload of exportData.
type Export struct {
	ExportedAt    time.Time         `json:"exportedAt"`
	Version       string            `json:"version"`
	Authenticated bool              `json:"authenticated"`
	User          json.RawMessage   `json:"user"`
	Settings      settings.Settings `json:"settings"`
}

func (r *Router) authenticate(ctx context.Context, _ Request) (Result, error) {
	cred, err := r.auth.Authenticate(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Token: cred.Token, User: cred.User, WithUser: true}, nil
}

func (r *Router) logout(ctx context.Context, _ Request) (Result, error) {
	if err := r.store.Clear(ctx); err != nil {
		return Result{}, err
	}
	r.logger.Info("signed out", "request_id", RequestID(ctx))
	return Result{}, nil
}

func (r *Router) clearCache(ctx context.Context, _ Request) (Result, error) {
	if err := r.store.Clear(ctx); err != nil {
		return Result{}, err
	}
	r.logger.Info("cached credential cleared", "request_id", RequestID(ctx))
	return Result{}, nil
}

// getUser reads only the stored profile; it never calls the provider.
func (r *Router) getUser(ctx context.Context, _ Request) (Result, error) {
	cred, err := r.store.Load(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{WithUser: true}
	if cred != nil {
		res.User = cred.User
	}
	return res, nil
}

func (r *Router) fetch(get func(context.Context) (json.RawMessage, error)) handler {
	return func(ctx context.Context, _ Request) (Result, error) {
		data, err := get(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{Data: data}, nil
	}
}

func (r *Router) markNotificationAsRead(ctx context.Context, req Request) (Result, error) {
	if req.NotificationID == "" {
		return Result{}, output.ErrUsage("notificationId is required")
	}
	if err := r.gateway.MarkNotificationRead(ctx, string(req.NotificationID)); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

func (r *Router) getSettings(_ context.Context, _ Request) (Result, error) {
	s, err := r.settings.Load()
	if err != nil {
		return Result{}, err
	}
	return Result{Data: s.Redact()}, nil
}

func (r *Router) saveSettings(_ context.Context, req Request) (Result, error) {
	if req.Settings == nil {
		return Result{}, output.ErrUsage("settings are required")
	}
	s, err := r.settings.Save(*req.Settings)
	if err != nil {
		return Result{}, err
	}
	r.applySettings(s)
	return Result{Data: s.Redact()}, nil
}

func (r *Router) resetSettings(_ context.Context, _ Request) (Result, error) {
	s, err := r.settings.Reset()
	if err != nil {
		return Result{}, err
	}
	r.applySettings(s)
	return Result{Data: s.Redact()}, nil
}

// settingsUpdated is sent by a client that wrote settings itself.
func (r *Router) settingsUpdated(_ context.Context, _ Request) (Result, error) {
	s, err := r.settings.Load()
	if err != nil {
		return Result{}, err
	}
	r.applySettings(s)
	return Result{}, nil
}

func (r *Router) exportData(ctx context.Context, _ Request) (Result, error) {
	s, err := r.settings.Load()
	if err != nil {
		return Result{}, err
	}
	cred, err := r.store.Load(ctx)
	if err != nil {
		return Result{}, err
	}

	exp := Export{
		ExportedAt: r.now().UTC(),
		Version:    version.Version,
		User:       json.RawMessage("null"),
		Settings:   s.Redact(),
	}
	if cred != nil {
		exp.Authenticated = true
		if raw := cred.User.Raw(); raw != nil {
			exp.User = raw
		}
	}
	return Result{Data: exp}, nil
}

func (r *Router) applySettings(s settings.Settings) {
	if r.onSettings != nil {
		r.onSettings(s)
	}
}
