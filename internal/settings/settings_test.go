package settings

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octobridge/octobridge/internal/output"
)

var (
	validID     = "Iv1a0123456789abcdef"
	validSecret = strings.Repeat("ab12", 10)
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Empty(t, d.ClientID)
	assert.True(t, d.ShowNotifications)
	assert.True(t, d.AutoRefresh)
	assert.Equal(t, 10, d.RefreshInterval)
	assert.True(t, d.NotifyIssues)
	assert.True(t, d.NotifyPullRequests)
	assert.False(t, d.NotifyComments)
	assert.NoError(t, d.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid credentials", func(s *Settings) { s.ClientID = validID; s.ClientSecret = validSecret }, ""},
		{"short client id", func(s *Settings) { s.ClientID = "abc" }, "invalid client_id"},
		{"client id with symbols", func(s *Settings) { s.ClientID = "Iv1.0123456789abcdef" }, "invalid client_id"},
		{"short secret", func(s *Settings) { s.ClientSecret = "abc" }, "invalid client_secret"},
		{"interval zero", func(s *Settings) { s.RefreshInterval = 0 }, "refresh_interval"},
		{"interval too long", func(s *Settings) { s.RefreshInterval = 61 }, "refresh_interval"},
		{"interval bounds", func(s *Settings) { s.RefreshInterval = 60 }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, output.CodeUsage, output.AsError(err).Code)
		})
	}
}

func TestRedact(t *testing.T) {
	s := Defaults()
	assert.Empty(t, s.Redact().ClientSecret)

	s.ClientSecret = validSecret
	assert.Equal(t, Redacted, s.Redact().ClientSecret)
	assert.Equal(t, validSecret, s.ClientSecret, "original untouched")
}

func TestSet(t *testing.T) {
	s := Defaults()
	require.NoError(t, s.Set("notify_comments", "true"))
	require.NoError(t, s.Set("refresh_interval", "30"))
	require.NoError(t, s.Set("client_id", validID))
	assert.True(t, s.NotifyComments)
	assert.Equal(t, 30, s.RefreshInterval)
	assert.Equal(t, validID, s.ClientID)

	assert.Error(t, s.Set("auto_refresh", "maybe"))
	assert.Error(t, s.Set("refresh_interval", "soon"))

	err := s.Set("colour", "blue")
	require.Error(t, err)
	assert.Contains(t, output.AsError(err).Hint, "notify_comments")
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	st := NewStore(t.TempDir(), nil)
	got, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), got)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("notify_comments: true\nrefresh_interval: 5\n"), 0o600))

	got, err := NewStore(dir, nil).Load()
	require.NoError(t, err)
	assert.True(t, got.NotifyComments)
	assert.Equal(t, 5, got.RefreshInterval)
	assert.True(t, got.ShowNotifications)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("refresh_interval: [\n"), 0o600))

	_, err := NewStore(dir, nil).Load()
	require.Error(t, err)
	assert.Equal(t, output.CodePersistence, output.AsError(err).Code)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, nil)

	next := Defaults()
	next.ClientID = validID
	next.ClientSecret = validSecret
	next.AutoRefresh = false
	saved, err := st.Save(next)
	require.NoError(t, err)
	assert.Equal(t, next, saved)

	info, err := os.Stat(st.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := NewStore(dir, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, next, reloaded)
}

func TestSaveRejectsInvalidAndKeepsPrevious(t *testing.T) {
	st := NewStore(t.TempDir(), nil)
	bad := Defaults()
	bad.RefreshInterval = 0

	got, err := st.Save(bad)
	require.Error(t, err)
	assert.Equal(t, Defaults(), got)
	_, statErr := os.Stat(st.Path())
	assert.True(t, os.IsNotExist(statErr), "nothing written")
}

func TestSaveKeepsSecretWhenRedacted(t *testing.T) {
	st := NewStore(t.TempDir(), nil)
	s := Defaults()
	s.ClientSecret = validSecret
	_, err := st.Save(s)
	require.NoError(t, err)

	shown := st.Current().Redact()
	shown.NotifyComments = true
	saved, err := st.Save(shown)
	require.NoError(t, err)
	assert.Equal(t, validSecret, saved.ClientSecret)
	assert.True(t, saved.NotifyComments)
}

func TestReset(t *testing.T) {
	st := NewStore(t.TempDir(), nil)
	s := Defaults()
	s.NotifyComments = true
	_, err := st.Save(s)
	require.NoError(t, err)

	got, err := st.Reset()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), got)

	reloaded, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), reloaded)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Settings, 4)
	done := make(chan error, 1)
	go func() { done <- st.Watch(ctx, func(s Settings) { changes <- s }) }()

	// Another process writes the file; retry until the watcher is registered.
	other := NewStore(dir, nil)
	next := Defaults()
	next.RefreshInterval = 42

	var got Settings
	require.Eventually(t, func() bool {
		if _, err := other.Save(next); err != nil {
			return false
		}
		select {
		case got = <-changes:
			return true
		case <-time.After(2 * DebounceInterval):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 42, got.RefreshInterval)
	assert.Equal(t, 42, st.Current().RefreshInterval)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}
