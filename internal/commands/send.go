package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/router"
)

// NewSendCmd creates the send command: a raw passthrough to the daemon.
func NewSendCmd() *cobra.Command {
	var data string
	var notificationID string

	cmd := &cobra.Command{
		Use:   "send <action>",
		Short: "Send a raw message to the daemon",
		Long: `Send any action to the daemon and print the envelope it returns.

Actions: ` + actionList() + `

--data takes the message body as JSON ("-" reads it from stdin). The action
argument always wins over an "action" field in --data.`,
		Example: `  octobridge send getUser
  octobridge send markNotificationAsRead --notification-id 123
  octobridge send saveSettings --data '{"settings":{"refresh_interval":5}}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			req := router.Request{}
			if data != "" {
				body := []byte(data)
				if data == "-" {
					body, err = io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("reading stdin: %w", err)
					}
				}
				req, err = router.DecodeRequest(body)
				if err != nil {
					return output.ErrUsage(fmt.Sprintf("--data is not a valid message: %v", err))
				}
			}
			req.Action = router.Action(args[0])
			if notificationID != "" {
				req.NotificationID = router.NotificationID(notificationID)
			}

			return app.Send(cmd.Context(), req, nil)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "Message body as JSON, or - for stdin")
	cmd.Flags().StringVar(&notificationID, "notification-id", "", "notificationId parameter")

	return cmd
}

func actionList() string {
	names := make([]string, 0, len(router.Actions()))
	for _, a := range router.Actions() {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}
