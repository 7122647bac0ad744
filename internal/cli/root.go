// Package cli implements the ragchat command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"ragchat/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "ragchat",
	Short: "Retrieval-augmented question answering over a document corpus",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return config.LoadAndApply()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func serverURL() string {
	if v := os.Getenv("RAGCHAT_SERVER_URL"); v != "" {
		return v
	}
	return "http://localhost:3000"
}
