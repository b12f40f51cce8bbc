// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run message-store database migrations",
		Long:  `Run all pending database migrations against the Postgres message store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, databaseURL)
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database_url", "", "Postgres connection string (required)")

	return cmd
}

func runMigrate(cmd *cobra.Command, databaseURL string) error {
	if databaseURL == "" {
		return oops.Code(core.CodeInvalidArg).Errorf("--database_url is required")
	}

	cmd.Println("Connecting to database...")
	migrator, err := store.NewMigrator(databaseURL)
	if err != nil {
		return oops.Code(core.CodeInternal).With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		_ = migrator.Close()
	}()

	cmd.Println("Running migrations...")
	if err := migrator.Up(); err != nil {
		return oops.Code(core.CodeInternal).With("operation", "run migrations").Wrap(err)
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return oops.Code(core.CodeInternal).With("operation", "read migration version").Wrap(err)
	}

	cmd.Printf("Migrations completed successfully (schema version %d, dirty=%t)\n", version, dirty)
	return nil
}
