package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/krishisakhi-go/internal/version"
)

// NewVersionCmd constructs the `sakhi version` subcommand.
// Falls back to "dev"/"unknown" for local builds.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sakhi version, git commit, and build date",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
