package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "account-service",
		Short:        "Account and session service for the chat server",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (yaml, json or toml)")

	serve := newServeCmd(&configPath)
	rootCmd.AddCommand(serve, newMigrateCmd(&configPath))
	// running without a subcommand starts the server
	rootCmd.RunE = serve.RunE

	return rootCmd
}
