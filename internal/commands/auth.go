package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/router"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long:  "Sign in to GitHub through the daemon, sign out, and show who is signed in.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with GitHub",
		Long: `Ask the daemon to run the OAuth authorization flow.

The daemon opens the consent page in your browser (or prints it when started
with --no-browser) and waits for the redirect. Starting a new login replaces
any login still waiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if app.IsInteractive() {
				fmt.Fprintln(app.Stderr(), "Waiting for GitHub authorization in your browser...")
			}

			return app.Send(cmd.Context(), router.Request{Action: router.ActionAuthenticate}, func(env *output.Envelope) string {
				return "Signed in as " + userLogin(env)
			})
		},
	}
}

func newAuthLogoutCmd() *cobra.Command {
	return sendCmd("logout", "Remove the stored credential", router.ActionLogout, staticSummary("Signed out"))
}

func newAuthStatusCmd() *cobra.Command {
	return sendCmd("status", "Show the signed-in user", router.ActionGetUser, func(env *output.Envelope) string {
		if login := userLogin(env); login != "" {
			return "Signed in as " + login
		}
		return "Not signed in"
	})
}
