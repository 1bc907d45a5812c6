package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/router"
)

// NewReposCmd lists the user's repositories.
func NewReposCmd() *cobra.Command {
	cmd := sendCmd("repos", "List your repositories, most recently updated first", router.ActionGetRepositories, countSummary("repository", "repositories"))
	cmd.Aliases = []string{"repositories"}
	return cmd
}

// NewIssuesCmd lists issues assigned to, created by or mentioning the user.
func NewIssuesCmd() *cobra.Command {
	return sendCmd("issues", "List your issues", router.ActionGetIssues, countSummary("issue", "issues"))
}

// NewNotificationsCmd creates the notifications command group.
func NewNotificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notifs"},
		Short:   "List and acknowledge notifications",
	}

	list := sendCmd("list", "List unread notifications", router.ActionGetNotifications, countSummary("notification", "notifications"))
	cmd.AddCommand(list, newNotificationsReadCmd())

	// Bare "notifications" lists.
	cmd.RunE = list.RunE
	cmd.Args = cobra.NoArgs

	return cmd
}

func newNotificationsReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <thread-id>",
		Short: "Mark a notification thread as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			id := strings.TrimSpace(args[0])
			if id == "" {
				return output.ErrUsage("notificationId is required")
			}
			req := router.Request{
				Action:         router.ActionMarkNotificationAsRead,
				NotificationID: router.NotificationID(id),
			}
			return app.Send(cmd.Context(), req, staticSummary("Marked "+id+" as read"))
		},
	}
}
