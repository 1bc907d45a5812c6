package credential

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	serviceName = "octobridge"
	itemName    = "credential"
)

// KeyringStore keeps the credential in the system keychain, falling back to a
// plaintext file when no keychain is available.
type KeyringStore struct {
	useKeyring bool
	fallback   *FileStore
}

// NewKeyringStore probes the system keyring and picks the backend.
// OCTOBRIDGE_NO_KEYRING forces the file fallback.
func NewKeyringStore(fallbackDir string, logger *slog.Logger) *KeyringStore {
	fallback := NewFileStore(fallbackDir)
	if os.Getenv("OCTOBRIDGE_NO_KEYRING") != "" {
		return &KeyringStore{fallback: fallback}
	}

	testKey := "octobridge::probe"
	if err := keyring.Set(serviceName, testKey, "probe"); err == nil {
		_ = keyring.Delete(serviceName, testKey)
		return &KeyringStore{useKeyring: true, fallback: fallback}
	}

	if logger != nil {
		logger.Warn("system keyring unavailable, credential stored in plaintext", "path", fallback.Path())
	}
	return &KeyringStore{fallback: fallback}
}

// UsingKeyring reports whether the system keyring is in use.
func (s *KeyringStore) UsingKeyring() bool {
	return s.useKeyring
}

func (s *KeyringStore) Load(ctx context.Context) (*Credential, error) {
	if !s.useKeyring {
		return s.fallback.Load(ctx)
	}
	data, err := keyring.Get(serviceName, itemName)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("load", "keyring", err)
	}
	cred, err := decode([]byte(data))
	if err != nil {
		return nil, storeErr("load", "keyring", err)
	}
	return cred, nil
}

func (s *KeyringStore) Save(ctx context.Context, cred Credential) error {
	if !s.useKeyring {
		return s.fallback.Save(ctx, cred)
	}
	data, err := encode(cred)
	if err != nil {
		return storeErr("save", "keyring", err)
	}
	if err := keyring.Set(serviceName, itemName, string(data)); err != nil {
		return storeErr("save", "keyring", err)
	}
	return nil
}

func (s *KeyringStore) Clear(ctx context.Context) error {
	if !s.useKeyring {
		return s.fallback.Clear(ctx)
	}
	err := keyring.Delete(serviceName, itemName)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return storeErr("clear", "keyring", err)
	}
	return nil
}

// MigrateToKeyring moves a plaintext credential into the keyring and removes the file.
func (s *KeyringStore) MigrateToKeyring(ctx context.Context) error {
	if !s.useKeyring {
		return nil
	}

	cred, err := s.fallback.Load(ctx)
	if err != nil || cred == nil {
		return nil //nolint:nilerr // nothing readable to migrate
	}
	if err := s.Save(ctx, *cred); err != nil {
		return err
	}
	_ = s.fallback.Clear(ctx)
	return nil
}
