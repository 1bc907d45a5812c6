package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/octobridge/octobridge/internal/appctx"
	"github.com/octobridge/octobridge/internal/config"
	"github.com/octobridge/octobridge/internal/hostutil"
	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/settings"
)

// configKeys are the keys config.json accepts.
var configKeys = []string{
	"listen_addr", "api_base_url", "authorize_url", "token_url",
	"client_id", "client_secret", "scope", "state", "callback_port", "auth_timeout",
	"page_size", "store_backend", "redis_url", "log_level", "log_format",
}

// NewConfigCmd creates the config command for managing configuration.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage octobridge configuration.

Configuration is loaded from multiple sources with the following precedence:
  flags > env (OCTOBRIDGE_*) > global > system > defaults

Config locations:
  - System: /etc/octobridge/config.json
  - Global: ~/.config/octobridge/config.json (or $OCTOBRIDGE_CONFIG_DIR)

Changes take effect the next time the daemon starts. Settings edited with
"octobridge settings" apply to a running daemon.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
		newConfigPathCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the current effective configuration with source information.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
}

func runConfigShow(cmd *cobra.Command) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}
	cfg := app.Config

	secret := ""
	if cfg.ClientSecret != "" {
		secret = settings.Redacted
	}
	values := map[string]string{
		"listen_addr":   cfg.ListenAddr,
		"api_base_url":  cfg.APIBaseURL,
		"authorize_url": cfg.AuthorizeURL,
		"token_url":     cfg.TokenURL,
		"client_id":     cfg.ClientID,
		"client_secret": secret,
		"scope":         cfg.Scope,
		"state":         cfg.State,
		"callback_port": strconv.Itoa(cfg.CallbackPort),
		"auth_timeout":  cfg.AuthTimeout.String(),
		"page_size":     strconv.Itoa(cfg.PageSize),
		"store_backend": cfg.StoreBackend,
		"redis_url":     cfg.RedisURL,
		"log_level":     cfg.LogLevel,
		"log_format":    cfg.LogFormat,
	}

	rows := make([]map[string]string, 0, len(configKeys))
	for _, key := range configKeys {
		rows = append(rows, map[string]string{
			"key":    key,
			"value":  values[key],
			"source": cfg.SourceOf(key),
		})
	}

	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return app.Output.Write(output.Success(output.WithData(data)), "Effective configuration")
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value in the global config file",
		Long: `Set a value in the global config file.

Valid keys: ` + strings.Join(configKeys, ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			key, value := args[0], args[1]
			typed, err := parseConfigValue(key, value)
			if err != nil {
				return err
			}

			path := filepath.Join(config.GlobalConfigDir(), "config.json")
			configData, err := readConfigFile(path)
			if err != nil {
				return err
			}
			configData[key] = typed

			if err := writeConfigFile(path, configData); err != nil {
				return err
			}
			return writeConfigResult(app, key, value, path, "set")
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a value from the global config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			key := args[0]
			if !isConfigKey(key) {
				return invalidConfigKey(key)
			}

			path := filepath.Join(config.GlobalConfigDir(), "config.json")
			configData, err := readConfigFile(path)
			if err != nil {
				return err
			}
			if _, ok := configData[key]; !ok {
				return writeConfigResult(app, key, "", path, "not_set")
			}
			delete(configData, key)

			if err := writeConfigFile(path, configData); err != nil {
				return err
			}
			return writeConfigResult(app, key, "", path, "unset")
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GlobalConfigDir())
			return err
		},
	}
}

func isConfigKey(key string) bool {
	for _, k := range configKeys {
		if k == key {
			return true
		}
	}
	return false
}

func invalidConfigKey(key string) error {
	names := append([]string(nil), configKeys...)
	sort.Strings(names)
	return output.ErrUsage(fmt.Sprintf("Invalid config key %q. Valid keys: %s", key, strings.Join(names, ", ")))
}

// parseConfigValue checks value for key and returns it typed for config.json.
func parseConfigValue(key, value string) (any, error) {
	if !isConfigKey(key) {
		return nil, invalidConfigKey(key)
	}

	switch key {
	case "callback_port":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 65535 {
			return nil, output.ErrUsage("callback_port must be a port number")
		}
		return n, nil
	case "page_size":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 100 {
			return nil, output.ErrUsage("page_size must be between 1 and 100")
		}
		return n, nil
	case "auth_timeout":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 || d > config.MaxAuthTimeout {
			return nil, output.ErrUsage(fmt.Sprintf("auth_timeout must be a positive duration up to %s, such as 60s", config.MaxAuthTimeout))
		}
		return value, nil
	case "api_base_url", "authorize_url", "token_url":
		if err := hostutil.RequireSecureURL(value); err != nil {
			return nil, output.ErrUsage(err.Error())
		}
		return config.NormalizeBaseURL(value), nil
	case "log_format":
		if value != "text" && value != "json" {
			return nil, output.ErrUsage("log_format must be text or json")
		}
	case "store_backend":
		switch value {
		case "keyring", "file", "redis", "memory":
		default:
			return nil, output.ErrUsage("store_backend must be keyring, file, redis or memory")
		}
	}
	return value, nil
}

func readConfigFile(path string) (map[string]any, error) {
	configData := make(map[string]any)
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config location
	if err != nil {
		if os.IsNotExist(err) {
			return configData, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &configData); err != nil {
		return nil, output.ErrUsageHint(fmt.Sprintf("%s is not valid JSON", path), "Fix or remove the file, then retry")
	}
	return configData, nil
}

func writeConfigFile(path string, configData map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(configData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := atomicWriteFile(path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func writeConfigResult(app *appctx.App, key, value, path, status string) error {
	if key == "client_secret" && value != "" {
		value = settings.Redacted
	}
	data, err := json.Marshal(map[string]string{
		"key":    key,
		"value":  value,
		"path":   path,
		"status": status,
	})
	if err != nil {
		return err
	}
	summary := fmt.Sprintf("%s %s", strings.ReplaceAll(status, "_", " "), key)
	if status == "set" {
		summary = fmt.Sprintf("Set %s = %s", key, value)
	}
	return app.Output.Write(output.Success(output.WithData(data)), summary)
}

// atomicWriteFile writes data to a file atomically using temp+rename.
// Files are always created with 0600 permissions (owner read/write only).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Windows: rename fails when destination exists.
	if err := os.Rename(tmpPath, path); err != nil {
		if runtime.GOOS != "windows" {
			os.Remove(tmpPath)
			return err
		}
		_ = os.Remove(path)
		return os.Rename(tmpPath, path)
	}
	return nil
}
