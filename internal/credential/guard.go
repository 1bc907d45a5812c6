package credential

import (
	"context"
	"log/slog"
	"sync"

	"github.com/octobridge/octobridge/internal/output"
)

// Guard serializes access to a Store. Loads wait for in-flight saves and clears,
// so a reader never observes a credential that is still being written.
// Backend failures are logged and returned as persistence errors.
type Guard struct {
	mu      sync.RWMutex
	store   Store
	backend string
	logger  *slog.Logger
}

// NewGuard wraps store. A nil logger discards log output.
func NewGuard(store Store, backend string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Guard{store: store, backend: backend, logger: logger}
}

// Backend names the wrapped store.
func (g *Guard) Backend() string {
	return g.backend
}

func (g *Guard) Load(ctx context.Context) (*Credential, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cred, err := g.store.Load(ctx)
	if err != nil {
		return nil, g.fail("load", err)
	}
	return cred, nil
}

func (g *Guard) Save(ctx context.Context, cred Credential) error {
	if err := cred.Validate(); err != nil {
		return g.fail("save", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Save(ctx, cred); err != nil {
		return g.fail("save", err)
	}
	g.logger.Debug("credential saved", "backend", g.backend, "login", cred.User.Login)
	return nil
}

func (g *Guard) Clear(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Clear(ctx); err != nil {
		return g.fail("clear", err)
	}
	g.logger.Debug("credential cleared", "backend", g.backend)
	return nil
}

// Token returns the stored token, or "" when logged out.
func (g *Guard) Token(ctx context.Context) (string, error) {
	cred, err := g.Load(ctx)
	if err != nil || cred == nil {
		return "", err
	}
	return cred.Token, nil
}

func (g *Guard) fail(op string, err error) error {
	if _, ok := err.(*StoreError); !ok {
		err = storeErr(op, g.backend, err)
	}
	g.logger.Error("credential store failure", "op", op, "backend", g.backend, "error", err)
	return output.ErrPersistence(err)
}
