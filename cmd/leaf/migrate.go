// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/leafkit/leaf/internal/store"
)

// Migrator is the subset of store.Migrator the migrate commands use.
type Migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

// migratorFactory opens a migrator; tests replace it.
var migratorFactory = func(databaseURL string) (Migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Run all pending database migrations against the PostgreSQL database
named by database.url (or --database-url / LEAF_DATABASE__URL).`,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			return migrateUp(cmd, m)
		}),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			return migrateUp(cmd, m)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, dropping all Leaf tables",
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("All migrations rolled back")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version and pending migrations",
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			return migrateStatus(cmd, m)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations, clearing the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(v); err != nil {
				return err
			}
			cmd.Printf("Schema version forced to %d\n", v)
			return nil
		}),
	})

	return cmd
}

func withMigrator(fn func(cmd *cobra.Command, m Migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !cfg.Database.Enabled() {
			return oops.Code(store.CodeInvalidConfig).
				With("field", "url").
				Errorf("database url is required (set database.url, --database-url or LEAF_DATABASE__URL)")
		}

		m, err := migratorFactory(cfg.Database.URL)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, m.Close())
		}()
		return fn(cmd, m, args)
	}
}

func migrateUp(cmd *cobra.Command, m Migrator) error {
	before, _, err := m.Version()
	if err != nil {
		return err
	}
	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return err
	}
	after, _, err := m.Version()
	if err != nil {
		return err
	}
	if after == before {
		cmd.Println("Schema is up to date")
		return nil
	}
	cmd.Printf("Migrated from version %d to %d\n", before, after)
	return nil
}

func migrateStatus(cmd *cobra.Command, m Migrator) error {
	current, dirty, err := m.Version()
	if err != nil {
		return err
	}
	pending, err := m.Pending()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "VERSION\t%d\n", current)
	_, _ = fmt.Fprintf(w, "DIRTY\t%t\n", dirty)
	_, _ = fmt.Fprintf(w, "PENDING\t%d\n", len(pending))
	for _, v := range pending {
		name, err := store.MigrationName(v)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "\t%s\n", name)
	}
	return w.Flush()
}

// parseForceVersion parses the force target. -1 marks an empty schema.
func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < -1 {
		return 0, oops.Code(store.CodeMigrationVersion).
			With("version", s).
			Errorf("version must be an integer >= -1, got %q", s)
	}
	return v, nil
}
