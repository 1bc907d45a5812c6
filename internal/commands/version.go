package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/octobridge/octobridge/internal/version"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "octobridge "+version.Full())
			return err
		},
	}
}
