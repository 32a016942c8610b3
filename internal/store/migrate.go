// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package store

import (
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

// Migration error codes.
const (
	CodeMigrationSource  = "MIGRATION_SOURCE_FAILED"
	CodeMigrationInit    = "MIGRATION_INIT_FAILED"
	CodeMigrationFailed  = "MIGRATION_FAILED"
	CodeMigrationClose   = "MIGRATION_CLOSE_FAILED"
	CodeMigrationVersion = "MIGRATION_INVALID_VERSION"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var migrationFile = regexp.MustCompile(`^(\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

// migrateIface abstracts golang-migrate so the Migrator can be tested
// without a database.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m migrateIface
}

// NewMigrator connects golang-migrate to databaseURL. postgres:// and
// postgresql:// URLs are rewritten to the pgx5:// scheme the driver expects.
func NewMigrator(databaseURL string) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code(CodeMigrationSource).Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, driverURL(databaseURL))
	if err != nil {
		_ = source.Close() //nolint:errcheck // init error takes precedence
		return nil, oops.Code(CodeMigrationInit).Wrap(err)
	}
	return &Migrator{m: m}, nil
}

// Migrate applies every pending migration to databaseURL.
func Migrate(databaseURL string, logger *slog.Logger) (err error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, m.Close())
	}()

	before, _, err := m.Version()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		return err
	}
	after, _, err := m.Version()
	if err != nil {
		return err
	}
	if logger != nil && after != before {
		logger.Info("database migrated", "from", before, "to", after)
	}
	return nil
}

func driverURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	return m.run("up", 0, m.m.Up)
}

// Down rolls back every migration. It drops all Leaf tables.
func (m *Migrator) Down() error {
	return m.run("down", 0, m.m.Down)
}

// Steps migrates n steps up (n > 0) or down (n < 0).
func (m *Migrator) Steps(n int) error {
	return m.run("steps", n, func() error { return m.m.Steps(n) })
}

func (m *Migrator) run(op string, steps int, fn func() error) error {
	if err := fn(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		b := oops.Code(CodeMigrationFailed).With("operation", op)
		if steps != 0 {
			b = b.With("steps", steps)
		}
		return b.Wrap(err)
	}
	return nil
}

// Version returns the applied version and whether the last migration left
// the schema dirty. No applied migrations is version 0.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code(CodeMigrationFailed).With("operation", "version").Wrap(err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything. It is the
// recovery path for a dirty schema.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code(CodeMigrationVersion).Errorf("version must be non-negative, got %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code(CodeMigrationFailed).With("operation", "force").With("version", version).Wrap(err)
	}
	return nil
}

// Close releases the source and the database connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if srcErr == nil && dbErr == nil {
		return nil
	}
	return oops.Code(CodeMigrationClose).Wrap(errors.Join(srcErr, dbErr))
}

// Pending lists versions Up would apply, ascending.
func (m *Migrator) Pending() ([]uint, error) {
	return m.partition(func(v, current uint) bool { return v > current })
}

// Applied lists applied versions, ascending.
func (m *Migrator) Applied() ([]uint, error) {
	return m.partition(func(v, current uint) bool { return v <= current })
}

func (m *Migrator) partition(keep func(v, current uint) bool) ([]uint, error) {
	current, _, err := m.Version()
	if err != nil {
		return nil, err
	}
	all, err := Versions()
	if err != nil {
		return nil, err
	}
	var out []uint
	for _, v := range all {
		if keep(v, current) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Versions lists the embedded migration versions, ascending.
func Versions() ([]uint, error) {
	names, err := migrationNames()
	if err != nil {
		return nil, err
	}
	versions := make([]uint, 0, len(names))
	for v := range names {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	return versions, nil
}

// MigrationName returns "NNNNNN_name" for version, or "" if there is no
// such migration.
func MigrationName(version uint) (string, error) {
	names, err := migrationNames()
	if err != nil {
		return "", err
	}
	return names[version], nil
}

func migrationNames() (map[uint]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code(CodeMigrationSource).Wrap(err)
	}
	names := make(map[uint]string)
	for _, entry := range entries {
		match := migrationFile.FindStringSubmatch(entry.Name())
		if match == nil || match[3] != "up" {
			continue
		}
		v, err := strconv.ParseUint(match[1], 10, 64)
		if err != nil {
			continue
		}
		names[uint(v)] = match[1] + "_" + match[2]
	}
	return names, nil
}
