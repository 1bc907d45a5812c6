package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path string, values map[string]any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.Marshal(values)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "https://api.github.com", cfg.APIBaseURL)
	assert.Equal(t, "repo,user,read:org", cfg.Scope)
	assert.Equal(t, "octobridge", cfg.State)
	assert.Equal(t, 8976, cfg.CallbackPort)
	assert.Equal(t, 60*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 20, cfg.PageSize)
	assert.Equal(t, "keyring", cfg.StoreBackend)
	assert.NotNil(t, cfg.Sources)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, configPath, map[string]any{
		"listen_addr":   "127.0.0.1:9000",
		"api_base_url":  "http://ghe.example.com/api/v3",
		"client_id":     "abc",
		"scope":         "repo",
		"callback_port": 9123,
		"page_size":     "50",
		"auth_timeout":  "90s",
		"store_backend": "redis",
		"redis_url":     "redis://localhost:6379/0",
		"log_format":    "json",
	})

	cfg := Default()
	loadFromFile(cfg, configPath, SourceGlobal)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "http://ghe.example.com/api/v3", cfg.APIBaseURL)
	assert.Equal(t, "abc", cfg.ClientID)
	assert.Equal(t, "repo", cfg.Scope)
	assert.Equal(t, 9123, cfg.CallbackPort)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 90*time.Second, cfg.AuthTimeout)
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "json", cfg.LogFormat)

	assert.Equal(t, "global", cfg.Sources["api_base_url"])
	assert.Equal(t, "global", cfg.Sources["callback_port"])
	assert.Equal(t, "global", cfg.Sources["auth_timeout"])
	assert.Equal(t, "default", cfg.SourceOf("token_url"))
}

func TestLoadFromFileSkipsInvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte("not json"), 0o644))

	cfg := Default()
	loadFromFile(cfg, configPath, SourceGlobal)

	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Empty(t, cfg.Sources)
}

func TestLoadFromFileSkipsMissingFile(t *testing.T) {
	cfg := Default()
	loadFromFile(cfg, "/nonexistent/config.json", SourceGlobal)
	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
}

func TestLoadFromFileEmptyValuesKeepDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, configPath, map[string]any{"scope": "", "page_size": "abc"})

	cfg := Default()
	loadFromFile(cfg, configPath, SourceGlobal)

	assert.Equal(t, DefaultScope, cfg.Scope)
	assert.Equal(t, DefaultPageSize, cfg.PageSize)
	assert.NotContains(t, cfg.Sources, "scope")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OCTOBRIDGE_API_BASE_URL", "http://env.example.com")
	t.Setenv("OCTOBRIDGE_CLIENT_SECRET", "shh")
	t.Setenv("OCTOBRIDGE_AUTH_TIMEOUT", "5")
	t.Setenv("OCTOBRIDGE_PAGE_SIZE", "7")
	t.Setenv("OCTOBRIDGE_CALLBACK_PORT", "not-a-port")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, "http://env.example.com", cfg.APIBaseURL)
	assert.Equal(t, "shh", cfg.ClientSecret)
	assert.Equal(t, 5*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 7, cfg.PageSize)
	assert.Equal(t, DefaultCallbackPort, cfg.CallbackPort)
	assert.Equal(t, "env", cfg.Sources["client_secret"])
	assert.NotContains(t, cfg.Sources, "callback_port")
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	ApplyOverrides(cfg, FlagOverrides{ListenAddr: ":1234", StoreBackend: "memory"})

	assert.Equal(t, ":1234", cfg.ListenAddr)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, "flag", cfg.Sources["listen_addr"])
	assert.NotContains(t, cfg.Sources, "log_level")
}

func TestFullLayeringPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OCTOBRIDGE_CONFIG_DIR", dir)
	writeConfig(t, filepath.Join(dir, "config.json"), map[string]any{
		"listen_addr":   "127.0.0.1:1111",
		"scope":         "repo",
		"store_backend": "file",
	})
	t.Setenv("OCTOBRIDGE_LISTEN_ADDR", "127.0.0.1:2222")
	t.Setenv("OCTOBRIDGE_STORE_BACKEND", "redis")

	cfg, err := Load(FlagOverrides{StoreBackend: "memory"})
	require.NoError(t, err)

	assert.Equal(t, "repo", cfg.Scope)
	assert.Equal(t, "global", cfg.Sources["scope"])
	assert.Equal(t, "127.0.0.1:2222", cfg.ListenAddr)
	assert.Equal(t, "env", cfg.Sources["listen_addr"])
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, "flag", cfg.Sources["store_backend"])
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("OCTOBRIDGE_CONFIG_DIR", t.TempDir())
	t.Setenv("OCTOBRIDGE_PAGE_SIZE", "0")

	_, err := Load(FlagOverrides{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_size")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"page size too big", func(c *Config) { c.PageSize = 101 }, false},
		{"negative port", func(c *Config) { c.CallbackPort = -1 }, false},
		{"zero timeout", func(c *Config) { c.AuthTimeout = 0 }, false},
		{"max timeout", func(c *Config) { c.AuthTimeout = MaxAuthTimeout }, true},
		{"timeout outlasting the client", func(c *Config) { c.AuthTimeout = 5 * time.Minute }, false},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, false},
		{"json log format", func(c *Config) { c.LogFormat = "json" }, true},
		{"plain http provider", func(c *Config) { c.TokenURL = "http://ghe.example.com/login/oauth/access_token" }, false},
		{"local test provider", func(c *Config) { c.APIBaseURL = "http://127.0.0.1:9999" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.github.com", NormalizeBaseURL("https://api.github.com/"))
	assert.Equal(t, "https://api.github.com", NormalizeBaseURL("https://api.github.com"))
}

func TestGlobalConfigDir(t *testing.T) {
	t.Setenv("OCTOBRIDGE_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/octobridge", GlobalConfigDir())

	t.Setenv("OCTOBRIDGE_CONFIG_DIR", "/explicit")
	assert.Equal(t, "/explicit", GlobalConfigDir())
}
