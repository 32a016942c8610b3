// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/leafkit/leaf/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Leaf CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaf",
		Short: "Leaf - a pluggable WeChat application server",
		Long: `Leaf boots an HTTP server with an event bus, a task scheduler,
Lua and binary plugins, and optional WeChat messaging and payment routes.

Settings come from leaf.yaml, LEAF_ environment variables and flags,
in increasing order of precedence.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/leaf/leaf.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPluginsCmd())
	cmd.AddCommand(NewErrorsCmd())

	return cmd
}

// loadConfig reads the configuration for cmd, honoring --config and any
// changed configuration flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return config.Load(configFile, cmd.Flags())
}
