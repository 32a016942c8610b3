// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Instance is one process lifetime recorded in leaf_instances.
type Instance struct {
	ID         ulid.ULID
	Version    string
	Hostname   string
	StartedAt  time.Time
	StoppedAt  *time.Time
	ExitReason string
}

// Running reports whether the instance has no recorded stop.
func (i Instance) Running() bool { return i.StoppedAt == nil }

// RecordStart inserts a started instance.
func (p *Pool) RecordStart(ctx context.Context, id ulid.ULID, version, hostname string) error {
	if p.stopped.Load() {
		return errStopped()
	}
	_, err := p.db.Exec(ctx,
		`INSERT INTO leaf_instances (id, version, hostname) VALUES ($1, $2, $3)`,
		id.String(), version, hostname)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code(CodeInstanceExists).With("instance", id.String()).Wrapf(err, "instance already recorded")
		}
		return oops.With("operation", "record instance start").With("instance", id.String()).Wrap(err)
	}
	return nil
}

// RecordStop marks a running instance stopped.
func (p *Pool) RecordStop(ctx context.Context, id ulid.ULID, reason string) error {
	if p.stopped.Load() {
		return errStopped()
	}
	tag, err := p.db.Exec(ctx,
		`UPDATE leaf_instances SET stopped_at = now(), exit_reason = $2 WHERE id = $1 AND stopped_at IS NULL`,
		id.String(), reason)
	if err != nil {
		return oops.With("operation", "record instance stop").With("instance", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(CodeInstanceNotFound).With("instance", id.String()).Errorf("no running instance %s", id)
	}
	return nil
}

// Instances lists the most recent instances, newest first.
func (p *Pool) Instances(ctx context.Context, limit int) ([]Instance, error) {
	if p.stopped.Load() {
		return nil, errStopped()
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.Query(ctx,
		`SELECT id, version, hostname, started_at, stopped_at, exit_reason
		 FROM leaf_instances ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, oops.With("operation", "list instances").Wrap(err)
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		var (
			inst  Instance
			idStr string
		)
		if err := rows.Scan(&idStr, &inst.Version, &inst.Hostname, &inst.StartedAt, &inst.StoppedAt, &inst.ExitReason); err != nil {
			return nil, oops.With("operation", "scan instance row").Wrap(err)
		}
		inst.ID, err = ulid.Parse(idStr)
		if err != nil {
			return nil, oops.With("operation", "parse instance id").With("instance", idStr).Wrap(err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate instances").Wrap(err)
	}
	return out, nil
}
