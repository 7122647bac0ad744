package cli

import (
	"github.com/spf13/cobra"

	"ragchat/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("ragchat version %s\n", version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
