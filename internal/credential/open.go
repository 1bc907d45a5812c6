package credential

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	BackendKeyring = "keyring"
	BackendFile    = "file"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend  string
	Dir      string // keyring fallback and file backend directory
	RedisURL string
	RedisKey string
	Logger   *slog.Logger
}

// Open builds the configured store wrapped in a Guard. The returned close
// function releases backend resources and is never nil.
func Open(ctx context.Context, opts Options) (*Guard, func() error, error) {
	noop := func() error { return nil }

	switch opts.Backend {
	case "", BackendKeyring:
		ks := NewKeyringStore(opts.Dir, opts.Logger)
		if err := ks.MigrateToKeyring(ctx); err != nil && opts.Logger != nil {
			opts.Logger.Warn("credential migration to keyring failed", "error", err)
		}
		name := BackendKeyring
		if !ks.UsingKeyring() {
			name = BackendFile
		}
		return NewGuard(ks, name, opts.Logger), noop, nil

	case BackendFile:
		return NewGuard(NewFileStore(opts.Dir), BackendFile, opts.Logger), noop, nil

	case BackendMemory:
		return NewGuard(NewMemoryStore(), BackendMemory, opts.Logger), noop, nil

	case BackendRedis:
		if opts.RedisURL == "" {
			return nil, noop, fmt.Errorf("store backend %q requires redis_url", BackendRedis)
		}
		client, err := DialRedis(ctx, opts.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		rs := NewRedisStore(client, opts.RedisKey)
		return NewGuard(rs, BackendRedis, opts.Logger), rs.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
