package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootCmd runs the server when called without a subcommand.
func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "publishq",
		Short:         "Scheduled video publishing queue",
		Long:          `Accepts publish requests over HTTP and dispatches them to platform uploaders within per-platform rate limits.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.AddCommand(serveCmd(), migrateCmd(), optimalCmd())
	return cmd
}
