package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// gitVersion is set at build time with -ldflags "-X .../cmd.gitVersion=...".
var gitVersion = "dev"

// versionCmd prints the build version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Get the git SHA for this build",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "build version:", gitVersion)
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
