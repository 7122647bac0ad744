package cli

import (
	"github.com/spf13/cobra"

	"ragchat/internal/config"
	"ragchat/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(_ *cobra.Command, _ []string) error {
		addr := serveAddr
		if addr == "" {
			addr = config.Addr()
		}
		return server.Run(addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from RAGCHAT_ADDR, PORT or :3000)")
	rootCmd.AddCommand(serveCmd)
}
