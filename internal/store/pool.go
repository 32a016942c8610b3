// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package store owns the PostgreSQL connection pool and schema migrations.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/leafkit/leaf/internal/errs"
)

// Error codes for pool failures.
const (
	CodeInvalidConfig    = "DATABASE_CONFIG_INVALID"
	CodeConnectFailed    = "DATABASE_CONNECT_FAILED"
	CodeStopTimeout      = "DATABASE_STOP_TIMEOUT"
	CodeStopped          = "DATABASE_STOPPED"
	CodeInstanceExists   = "DATABASE_INSTANCE_EXISTS"
	CodeInstanceNotFound = "DATABASE_INSTANCE_NOT_FOUND"
)

// Kinds returns the error kinds raised by the pool, the key/value store
// and migrations. The config kind is registered by the config package.
func Kinds() []errs.Kind {
	return []errs.Kind{
		{Code: CodeConnectFailed, Description: "database could not be reached within the retry budget"},
		{Code: CodeStopTimeout, Description: "database pool did not drain before the deadline"},
		{Code: CodeStopped, Description: "database pool was used after it stopped"},
		{Code: CodeInstanceExists, Description: "instance was already recorded as started"},
		{Code: CodeInstanceNotFound, Description: "instance has no open start record"},
		{Code: CodeInvalidKey, Description: "plugin key/value namespace or key is empty"},
		{Code: CodeMigrationSource, Description: "embedded migrations could not be read"},
		{Code: CodeMigrationInit, Description: "migrator could not connect to the database"},
		{Code: CodeMigrationFailed, Description: "applying or reverting migrations failed"},
		{Code: CodeMigrationClose, Description: "migrator could not release its connection"},
		{Code: CodeMigrationVersion, Description: "requested schema version is invalid"},
	}
}

// Config holds database settings.
type Config struct {
	// URL is a postgres:// connection string. Empty disables the database.
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	// PingRetries bounds the startup ping attempts after the first.
	PingRetries uint64        `koanf:"ping_retries"`
	PingBackoff time.Duration `koanf:"ping_backoff"`
	// Migrate applies pending migrations at boot.
	Migrate bool `koanf:"migrate"`
}

// DefaultConfig returns the database defaults. The URL is empty.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MaxConnLifetime: time.Hour,
		ConnectTimeout:  5 * time.Second,
		PingRetries:     5,
		PingBackoff:     500 * time.Millisecond,
		Migrate:         true,
	}
}

// Enabled reports whether a database is configured.
func (c Config) Enabled() bool { return c.URL != "" }

// Validate checks the settings. A disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if _, err := pgxpool.ParseConfig(c.URL); err != nil {
		return oops.Code(CodeInvalidConfig).With("field", "url").Wrapf(err, "invalid database url")
	}
	if c.MaxConns < 0 || c.MinConns < 0 {
		return oops.Code(CodeInvalidConfig).With("field", "max_conns").Errorf("connection limits must not be negative")
	}
	if c.MaxConns > 0 && c.MinConns > c.MaxConns {
		return oops.Code(CodeInvalidConfig).
			With("min_conns", c.MinConns).
			With("max_conns", c.MaxConns).
			Errorf("min_conns exceeds max_conns")
	}
	if c.PingBackoff < 0 || c.ConnectTimeout < 0 {
		return oops.Code(CodeInvalidConfig).Errorf("durations must not be negative")
	}
	return nil
}

// DB is the part of pgxpool.Pool Leaf uses. pgxmock.PgxPoolIface satisfies
// it too.
type DB interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Pool is the application's database handle.
type Pool struct {
	db      DB
	logger  *slog.Logger
	stopped atomic.Bool
	once    sync.Once
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// New wraps an existing handle.
func New(db DB, opts ...Option) *Pool {
	p := &Pool{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open creates a pgx pool from cfg and waits until the server answers a
// ping. Transient failures are retried with exponential backoff;
// authentication and unknown-database errors fail immediately.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Pool, error) {
	if !cfg.Enabled() {
		return nil, oops.Code(CodeInvalidConfig).With("field", "url").Errorf("database url is empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code(CodeInvalidConfig).With("field", "url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code(CodeConnectFailed).With("host", poolCfg.ConnConfig.Host).Wrap(err)
	}

	p := New(pgPool, opts...)
	if err := p.WaitReady(ctx, cfg.PingRetries, cfg.PingBackoff); err != nil {
		pgPool.Close()
		return nil, oops.With("host", poolCfg.ConnConfig.Host).Wrap(err)
	}
	p.logger.Info("database connected",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns)
	return p, nil
}

// WaitReady pings until the database answers, retrying up to retries more
// times with exponential backoff starting at backoff.
func (p *Pool) WaitReady(ctx context.Context, retries uint64, backoff time.Duration) error {
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	b := retry.WithMaxRetries(retries, retry.NewExponential(backoff))

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := p.db.Ping(ctx)
		if err == nil {
			return nil
		}
		if permanent(err) {
			return err
		}
		p.logger.Warn("database not ready", "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return oops.Code(CodeConnectFailed).With("attempts", attempt).Wrapf(err, "database did not become ready")
	}
	return nil
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgerrcode.IsInvalidAuthorizationSpecification(pgErr.Code) ||
		pgErr.Code == pgerrcode.InvalidCatalogName
}

// Ping checks the connection. It serves as the readiness check.
func (p *Pool) Ping(ctx context.Context) error {
	if p.stopped.Load() {
		return errStopped()
	}
	if err := p.db.Ping(ctx); err != nil {
		return oops.With("operation", "ping").Wrap(err)
	}
	return nil
}

// Ready adapts Ping to a boolean readiness probe.
func (p *Pool) Ready(ctx context.Context) bool {
	return p.Ping(ctx) == nil
}

// DB returns the underlying handle.
func (p *Pool) DB() DB { return p.db }

// Stop closes the pool, waiting for acquired connections to be released
// or ctx to expire. Calling it again is a no-op.
func (p *Pool) Stop(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		p.stopped.Store(true)

		done := make(chan struct{})
		go func() {
			p.db.Close()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("database pool closed")
		case <-ctx.Done():
			err = oops.Code(CodeStopTimeout).Wrapf(ctx.Err(), "database connections still in use")
		}
	})
	return err
}

func errStopped() error {
	return oops.Code(CodeStopped).Errorf("database pool is stopped")
}
