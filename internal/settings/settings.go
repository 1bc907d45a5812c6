// Package settings persists the user-editable options bag in settings.yaml.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/octobridge/octobridge/internal/output"
)

// FileName is the settings file inside the config directory.
const FileName = "settings.yaml"

// Redacted replaces secrets in exported or displayed settings.
const Redacted = "********"

var (
	clientIDPattern     = regexp.MustCompile(`^[a-zA-Z0-9]{20}$`)
	clientSecretPattern = regexp.MustCompile(`^[a-zA-Z0-9]{40}$`)
)

// Settings is the options bag shown and edited by clients.
type Settings struct {
	ClientID           string `yaml:"client_id" json:"client_id"`
	ClientSecret       string `yaml:"client_secret" json:"client_secret"`
	ShowNotifications  bool   `yaml:"show_notifications" json:"show_notifications"`
	AutoRefresh        bool   `yaml:"auto_refresh" json:"auto_refresh"`
	RefreshInterval    int    `yaml:"refresh_interval" json:"refresh_interval"`
	NotifyIssues       bool   `yaml:"notify_issues" json:"notify_issues"`
	NotifyPullRequests bool   `yaml:"notify_pull_requests" json:"notify_pull_requests"`
	NotifyComments     bool   `yaml:"notify_comments" json:"notify_comments"`
}

// Defaults returns the settings a fresh install starts with.
func Defaults() Settings {
	return Settings{
		ShowNotifications:  true,
		AutoRefresh:        true,
		RefreshInterval:    10,
		NotifyIssues:       true,
		NotifyPullRequests: true,
	}
}

// Validate checks every field and reports the first problem as a usage error.
// Empty client credentials are allowed; config may supply them instead.
func (s Settings) Validate() error {
	if s.ClientID != "" && !clientIDPattern.MatchString(s.ClientID) {
		return output.ErrUsageHint("invalid client_id", "A GitHub OAuth client ID is 20 letters or digits")
	}
	if s.ClientSecret != "" && !clientSecretPattern.MatchString(s.ClientSecret) {
		return output.ErrUsageHint("invalid client_secret", "A GitHub OAuth client secret is 40 letters or digits")
	}
	if s.RefreshInterval < 1 || s.RefreshInterval > 60 {
		return output.ErrUsage(fmt.Sprintf("refresh_interval must be between 1 and 60 minutes, got %d", s.RefreshInterval))
	}
	return nil
}

// Redact returns a copy with the client secret masked.
func (s Settings) Redact() Settings {
	if s.ClientSecret != "" {
		s.ClientSecret = Redacted
	}
	return s
}

// Set assigns a single field by its yaml key, parsing value for its type.
func (s *Settings) Set(key, value string) error {
	parseBool := func(dst *bool) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return output.ErrUsage(fmt.Sprintf("%s expects true or false, got %q", key, value))
		}
		*dst = b
		return nil
	}

	switch key {
	case "client_id":
		s.ClientID = value
	case "client_secret":
		s.ClientSecret = value
	case "show_notifications":
		return parseBool(&s.ShowNotifications)
	case "auto_refresh":
		return parseBool(&s.AutoRefresh)
	case "notify_issues":
		return parseBool(&s.NotifyIssues)
	case "notify_pull_requests":
		return parseBool(&s.NotifyPullRequests)
	case "notify_comments":
		return parseBool(&s.NotifyComments)
	case "refresh_interval":
		n, err := strconv.Atoi(value)
		if err != nil {
			return output.ErrUsage(fmt.Sprintf("refresh_interval expects a number, got %q", value))
		}
		s.RefreshInterval = n
	default:
		return output.ErrUsageHint(fmt.Sprintf("unknown setting %q", key), "Valid keys: "+strings.Join(Keys(), ", "))
	}
	return nil
}

// Keys lists the settable keys in file order.
func Keys() []string {
	return []string{
		"client_id", "client_secret", "show_notifications", "auto_refresh",
		"refresh_interval", "notify_issues", "notify_pull_requests", "notify_comments",
	}
}

// Store reads and writes settings.yaml and caches the last loaded value.
type Store struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	current Settings
}

// NewStore creates a store for dir/settings.yaml. Nothing is read until Load.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{dir: dir, logger: logger, current: Defaults()}
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Current returns the last loaded or saved settings.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Load reads the file. A missing file yields defaults; keys absent from the
// file keep their default values.
func (s *Store) Load() (Settings, error) {
	loaded, err := s.read()
	if err != nil {
		s.logger.Error("settings load failed", "path", s.Path(), "error", err)
		return s.Current(), output.ErrPersistence(fmt.Errorf("load settings: %w", err))
	}
	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return loaded, nil
}

func (s *Store) read() (Settings, error) {
	out := Defaults()
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return Defaults(), fmt.Errorf("parse %s: %w", s.Path(), err)
	}
	return out, nil
}

// Save validates and writes next. A redacted secret keeps the stored one, so a
// client may round-trip what getSettings returned.
func (s *Store) Save(next Settings) (Settings, error) {
	if next.ClientSecret == Redacted {
		next.ClientSecret = s.Current().ClientSecret
	}
	if err := next.Validate(); err != nil {
		return s.Current(), err
	}
	if err := s.write(next); err != nil {
		s.logger.Error("settings save failed", "path", s.Path(), "error", err)
		return s.Current(), output.ErrPersistence(fmt.Errorf("save settings: %w", err))
	}
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}

// Reset writes the defaults back to disk.
func (s *Store) Reset() (Settings, error) {
	return s.Save(Defaults())
}

func (s *Store) write(next Settings) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}

	fl := flock.New(s.Path() + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire settings lock: %w", err)
	}
	defer fl.Unlock() //nolint:errcheck

	data, err := yaml.Marshal(next)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "settings-*.yaml.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
