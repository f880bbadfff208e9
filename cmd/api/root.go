package main

import (
	"github.com/spf13/cobra"
)

// configFile is the optional YAML config shared by all subcommands.
var configFile string

// NewRootCmd creates the root command. Without a subcommand it serves the API.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Authentication API",
		Long: `Authentication API with registration, login, password reset and
email verification. Runs the HTTP server unless a subcommand is given.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
