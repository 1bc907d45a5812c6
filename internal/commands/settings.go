package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/router"
	"github.com/octobridge/octobridge/internal/settings"
)

// NewSettingsCmd creates the settings command group.
func NewSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "View and change daemon settings",
		Long: `View and change the settings the daemon keeps in settings.yaml.

Keys: ` + strings.Join(settings.Keys(), ", ") + `

A client_id and client_secret set here take precedence over config.json.`,
	}

	cmd.AddCommand(
		sendCmd("show", "Show current settings", router.ActionGetSettings, nil),
		newSettingsSetCmd(),
		sendCmd("reset", "Restore default settings", router.ActionResetSettings, staticSummary("Settings reset to defaults")),
		sendCmd("reload", "Make the daemon re-read settings.yaml", router.ActionSettingsUpdated, staticSummary("Settings reloaded")),
		newSettingsExportCmd(),
	)

	return cmd
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key=value>...",
		Short: "Change one or more settings",
		Example: `  octobridge settings set refresh_interval=5
  octobridge settings set notify_comments=true auto_refresh=false`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			pairs, err := parseAssignments(args)
			if err != nil {
				return err
			}

			env, err := app.Client.Send(cmd.Context(), router.Request{Action: router.ActionGetSettings})
			if err != nil {
				return err
			}
			if !env.Success {
				return env.Err()
			}

			// The secret comes back redacted; saving the placeholder keeps the stored one.
			var current settings.Settings
			if err := json.Unmarshal(env.Data, &current); err != nil {
				return fmt.Errorf("decoding settings: %w", err)
			}
			for _, p := range pairs {
				if err := current.Set(p[0], p[1]); err != nil {
					return err
				}
			}

			req := router.Request{Action: router.ActionSaveSettings, Settings: &current}
			return app.Send(cmd.Context(), req, staticSummary("Settings saved"))
		},
	}
}

func parseAssignments(args []string) ([][2]string, error) {
	pairs := make([][2]string, 0, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, output.ErrUsageHint(fmt.Sprintf("expected key=value, got %q", arg), "Example: octobridge settings set refresh_interval=5")
		}
		pairs = append(pairs, [2]string{key, value})
	}
	return pairs, nil
}

func newSettingsExportCmd() *cobra.Command {
	var format string
	var dest string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export settings and the signed-in profile",
		Long: `Write settings and the signed-in profile to a dated file.

Secrets and the access token are never included. Use --output - to print to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			if format != "json" && format != "yaml" {
				return output.ErrUsage("--format must be json or yaml")
			}

			env, err := app.Client.Send(cmd.Context(), router.Request{Action: router.ActionExportData})
			if err != nil {
				return err
			}
			if !env.Success {
				return env.Err()
			}

			data, err := encodeExport(env.Data, format)
			if err != nil {
				return err
			}

			if dest == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			path := dest
			if path == "" {
				path = exportFileName(time.Now(), format)
			} else if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
				path = filepath.Join(path, exportFileName(time.Now(), format))
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}

			result, _ := json.Marshal(map[string]string{"path": path, "format": format})
			return app.Output.Write(output.Success(output.WithData(result)), "Exported to "+path)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Export format: json or yaml")
	cmd.Flags().StringVarP(&dest, "output", "o", "", "File or directory to write (default: ./octobridge-export-<date>.<format>)")

	return cmd
}

func exportFileName(now time.Time, format string) string {
	return fmt.Sprintf("octobridge-export-%s.%s", now.Format("2006-01-02"), format)
}

func encodeExport(raw json.RawMessage, format string) ([]byte, error) {
	if format == "json" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, fmt.Errorf("decoding export: %w", err)
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	}

	// Decode with yaml so key order and numbers survive the round trip.
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("decoding export: %w", err)
	}
	setBlockStyle(&node)
	return yaml.Marshal(&node)
}

// setBlockStyle drops the flow style and quoting a JSON document decodes
// with. Strings that would read as another type stay quoted.
func setBlockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle
	for _, c := range n.Content {
		setBlockStyle(c)
	}
}

// NewCacheCmd creates the cache command group.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached data",
	}
	cmd.AddCommand(sendCmd("clear", "Drop the stored token and profile", router.ActionClearCache, staticSummary("Cache cleared")))
	return cmd
}
