package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/gofrs/flock"
)

const fileName = "credentials.json"

// FileStore keeps the credential in a 0600 JSON file. Writes go through a temp
// file and rename, under an advisory lock shared with other octobridge processes.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the credential file location.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, fileName)
}

func (s *FileStore) lock() (*flock.Flock, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, err
	}
	fl := flock.New(s.Path() + ".lock")
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquire credential lock: %w", err)
	}
	return fl, nil
}

func (s *FileStore) Load(_ context.Context) (*Credential, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("load", "file", err)
	}
	cred, err := decode(data)
	if err != nil {
		return nil, storeErr("load", "file", err)
	}
	return cred, nil
}

func (s *FileStore) Save(_ context.Context, cred Credential) error {
	data, err := encode(cred)
	if err != nil {
		return storeErr("save", "file", err)
	}

	fl, err := s.lock()
	if err != nil {
		return storeErr("save", "file", err)
	}
	defer fl.Unlock() //nolint:errcheck

	if err := s.writeAtomic(data); err != nil {
		return storeErr("save", "file", err)
	}
	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	fl, err := s.lock()
	if err != nil {
		return storeErr("clear", "file", err)
	}
	defer fl.Unlock() //nolint:errcheck

	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storeErr("clear", "file", err)
	}
	return nil
}

func (s *FileStore) writeAtomic(data []byte) error {
	tmpFile, err := os.CreateTemp(s.dir, "credentials-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Windows refuses to rename over an existing file.
	dest := s.Path()
	if err := os.Rename(tmpPath, dest); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(dest)
			return os.Rename(tmpPath, dest)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}
