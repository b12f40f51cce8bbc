// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flag available to every subcommand.
var configFile string

// NewRootCmd creates the root command for the wasmstreamd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wasmstreamd",
		Short: "wasmstreamd - a multi-tenant, WebAssembly-driven event-sourcing runtime",
		Long: `wasmstreamd runs the message store, module host, supervisor,
subscription hub, and command gateway that make up an event-sourced,
WebAssembly-plugin-driven aggregate runtime.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// newVersionCmd prints the build-time version information set via
// -ldflags, mirroring the teacher's version-variable convention in
// cmd/holomush/main.go.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("wasmstreamd %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}
