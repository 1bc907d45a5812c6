// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/octobridge/octobridge/internal/hostutil"
)

// Defaults.
const (
	DefaultListenAddr   = "127.0.0.1:8975"
	DefaultAPIBaseURL   = "https://api.github.com"
	DefaultAuthorizeURL = "https://github.com/login/oauth/authorize"
	DefaultTokenURL     = "https://github.com/login/oauth/access_token"
	DefaultScope        = "repo,user,read:org"
	DefaultState        = "octobridge"
	DefaultCallbackPort = 8976
	DefaultAuthTimeout  = 60 * time.Second
	// MaxAuthTimeout stays below the CLI client's request timeout so an
	// attempt always ends on the daemon side first.
	MaxAuthTimeout = 2 * time.Minute
	DefaultPageSize     = 20
	DefaultStoreBackend = "keyring"
)

// Config holds the resolved configuration.
type Config struct {
	// Daemon
	ListenAddr string `json:"listen_addr"`

	// Provider endpoints
	APIBaseURL   string `json:"api_base_url"`
	AuthorizeURL string `json:"authorize_url"`
	TokenURL     string `json:"token_url"`

	// OAuth client. Values from settings.yaml take precedence at runtime.
	ClientID     string        `json:"client_id"`
	ClientSecret string        `json:"client_secret"`
	Scope        string        `json:"scope"`
	State        string        `json:"state"`
	CallbackPort int           `json:"callback_port"`
	AuthTimeout  time.Duration `json:"-"`

	PageSize int `json:"page_size"`

	// Credential storage
	StoreBackend string `json:"store_backend"`
	RedisURL     string `json:"redis_url"`

	// Logging
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	ListenAddr   string
	StoreBackend string
	LogLevel     string
	LogFormat    string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		ListenAddr:   DefaultListenAddr,
		APIBaseURL:   DefaultAPIBaseURL,
		AuthorizeURL: DefaultAuthorizeURL,
		TokenURL:     DefaultTokenURL,
		Scope:        DefaultScope,
		State:        DefaultState,
		CallbackPort: DefaultCallbackPort,
		AuthTimeout:  DefaultAuthTimeout,
		PageSize:     DefaultPageSize,
		StoreBackend: DefaultStoreBackend,
		LogLevel:     "info",
		LogFormat:    "text",
		Sources:      make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, systemConfigPath(), SourceSystem)
	loadFromFile(cfg, globalConfigPath(), SourceGlobal)

	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.PageSize < 1 || c.PageSize > 100 {
		return fmt.Errorf("page_size must be between 1 and 100, got %d", c.PageSize)
	}
	if c.CallbackPort < 0 || c.CallbackPort > 65535 {
		return fmt.Errorf("callback_port out of range: %d", c.CallbackPort)
	}
	if c.AuthTimeout <= 0 || c.AuthTimeout > MaxAuthTimeout {
		return fmt.Errorf("auth_timeout must be positive and at most %s, got %s", MaxAuthTimeout, c.AuthTimeout)
	}
	for key, u := range map[string]string{
		"api_base_url":  c.APIBaseURL,
		"authorize_url": c.AuthorizeURL,
		"token_url":     c.TokenURL,
	} {
		if err := hostutil.RequireSecureURL(u); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fileCfg map[string]any
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	setString := func(key string, dst *string) {
		if v, ok := fileCfg[key].(string); ok && v != "" {
			*dst = v
			cfg.Sources[key] = string(source)
		}
	}
	setString("listen_addr", &cfg.ListenAddr)
	setString("api_base_url", &cfg.APIBaseURL)
	setString("authorize_url", &cfg.AuthorizeURL)
	setString("token_url", &cfg.TokenURL)
	setString("client_id", &cfg.ClientID)
	setString("client_secret", &cfg.ClientSecret)
	setString("scope", &cfg.Scope)
	setString("state", &cfg.State)
	setString("store_backend", &cfg.StoreBackend)
	setString("redis_url", &cfg.RedisURL)
	setString("log_level", &cfg.LogLevel)
	setString("log_format", &cfg.LogFormat)

	if v := getStringOrNumber(fileCfg, "callback_port"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CallbackPort = n
			cfg.Sources["callback_port"] = string(source)
		}
	}
	if v := getStringOrNumber(fileCfg, "page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PageSize = n
			cfg.Sources["page_size"] = string(source)
		}
	}
	if v := getStringOrNumber(fileCfg, "auth_timeout"); v != "" {
		if d, ok := parseDuration(v); ok {
			cfg.AuthTimeout = d
			cfg.Sources["auth_timeout"] = string(source)
		}
	}
}

// LoadFromEnv applies OCTOBRIDGE_* environment variables to cfg.
func LoadFromEnv(cfg *Config) {
	envString := func(name, key string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
			cfg.Sources[key] = string(SourceEnv)
		}
	}
	envString("OCTOBRIDGE_LISTEN_ADDR", "listen_addr", &cfg.ListenAddr)
	envString("OCTOBRIDGE_API_BASE_URL", "api_base_url", &cfg.APIBaseURL)
	envString("OCTOBRIDGE_AUTHORIZE_URL", "authorize_url", &cfg.AuthorizeURL)
	envString("OCTOBRIDGE_TOKEN_URL", "token_url", &cfg.TokenURL)
	envString("OCTOBRIDGE_CLIENT_ID", "client_id", &cfg.ClientID)
	envString("OCTOBRIDGE_CLIENT_SECRET", "client_secret", &cfg.ClientSecret)
	envString("OCTOBRIDGE_SCOPE", "scope", &cfg.Scope)
	envString("OCTOBRIDGE_STATE", "state", &cfg.State)
	envString("OCTOBRIDGE_STORE_BACKEND", "store_backend", &cfg.StoreBackend)
	envString("OCTOBRIDGE_REDIS_URL", "redis_url", &cfg.RedisURL)
	envString("OCTOBRIDGE_LOG_LEVEL", "log_level", &cfg.LogLevel)
	envString("OCTOBRIDGE_LOG_FORMAT", "log_format", &cfg.LogFormat)

	if v := os.Getenv("OCTOBRIDGE_CALLBACK_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CallbackPort = n
			cfg.Sources["callback_port"] = string(SourceEnv)
		}
	}
	if v := os.Getenv("OCTOBRIDGE_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PageSize = n
			cfg.Sources["page_size"] = string(SourceEnv)
		}
	}
	if v := os.Getenv("OCTOBRIDGE_AUTH_TIMEOUT"); v != "" {
		if d, ok := parseDuration(v); ok {
			cfg.AuthTimeout = d
			cfg.Sources["auth_timeout"] = string(SourceEnv)
		}
	}
}

// parseDuration accepts Go durations ("90s") or bare seconds ("90").
func parseDuration(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

// getStringOrNumber extracts a value that may be either a string or number in JSON.
func getStringOrNumber(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON numbers are unmarshaled as float64
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.ListenAddr != "" {
		cfg.ListenAddr = o.ListenAddr
		cfg.Sources["listen_addr"] = string(SourceFlag)
	}
	if o.StoreBackend != "" {
		cfg.StoreBackend = o.StoreBackend
		cfg.Sources["store_backend"] = string(SourceFlag)
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
		cfg.Sources["log_level"] = string(SourceFlag)
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
		cfg.Sources["log_format"] = string(SourceFlag)
	}
}

// SourceOf reports where key was set, defaulting to SourceDefault.
func (c *Config) SourceOf(key string) string {
	if s, ok := c.Sources[key]; ok {
		return s
	}
	return string(SourceDefault)
}

func systemConfigPath() string {
	return filepath.Join("/etc", "octobridge", "config.json")
}

func globalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.json")
}

// GlobalConfigDir returns the global config directory path.
// OCTOBRIDGE_CONFIG_DIR overrides the XDG location.
func GlobalConfigDir() string {
	if dir := os.Getenv("OCTOBRIDGE_CONFIG_DIR"); dir != "" {
		return dir
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "octobridge")
}

// NormalizeBaseURL ensures consistent URL format (no trailing slash).
func NormalizeBaseURL(url string) string {
	return strings.TrimSuffix(url, "/")
}
