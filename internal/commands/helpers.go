// Package commands implements the CLI commands.
package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/octobridge/octobridge/internal/appctx"
	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/router"
)

func requireApp(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	return app, nil
}

// sendCmd builds a command that sends a parameterless action.
func sendCmd(use, short string, action router.Action, summary func(*output.Envelope) string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			return app.Send(cmd.Context(), router.Request{Action: action}, summary)
		},
	}
}

// countSummary describes a list payload, e.g. "12 repositories".
func countSummary(singular, plural string) func(*output.Envelope) string {
	return func(env *output.Envelope) string {
		var items []json.RawMessage
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return ""
		}
		if len(items) == 1 {
			return "1 " + singular
		}
		return fmt.Sprintf("%d %s", len(items), plural)
	}
}

func staticSummary(s string) func(*output.Envelope) string {
	return func(*output.Envelope) string { return s }
}

// userLogin extracts the login from an envelope's user field.
func userLogin(env *output.Envelope) string {
	if !env.HasUser() {
		return ""
	}
	var u struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(env.User, &u); err != nil {
		return ""
	}
	return u.Login
}
