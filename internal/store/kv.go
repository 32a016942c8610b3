// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

// CodeInvalidKey marks an empty namespace or key.
const CodeInvalidKey = "DATABASE_KV_INVALID_KEY"

// KV is a namespaced key/value store in leaf_plugin_kv. Lua plugins get one
// namespace each.
type KV struct {
	pool *Pool
}

// KV returns the key/value view of the pool.
func (p *Pool) KV() *KV { return &KV{pool: p} }

// Get returns the value for key, or nil when it is not set.
func (kv *KV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := kv.check(namespace, key); err != nil {
		return nil, err
	}
	var value []byte
	err := kv.pool.db.QueryRow(ctx,
		`SELECT value FROM leaf_plugin_kv WHERE namespace = $1 AND key = $2`,
		namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.With("operation", "kv get").With("namespace", namespace).With("key", key).Wrap(err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (kv *KV) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := kv.check(namespace, key); err != nil {
		return err
	}
	_, err := kv.pool.db.Exec(ctx,
		`INSERT INTO leaf_plugin_kv (namespace, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		namespace, key, value)
	if err != nil {
		return oops.With("operation", "kv set").With("namespace", namespace).With("key", key).Wrap(err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (kv *KV) Delete(ctx context.Context, namespace, key string) error {
	if err := kv.check(namespace, key); err != nil {
		return err
	}
	_, err := kv.pool.db.Exec(ctx,
		`DELETE FROM leaf_plugin_kv WHERE namespace = $1 AND key = $2`,
		namespace, key)
	if err != nil {
		return oops.With("operation", "kv delete").With("namespace", namespace).With("key", key).Wrap(err)
	}
	return nil
}

func (kv *KV) check(namespace, key string) error {
	if kv.pool.stopped.Load() {
		return errStopped()
	}
	if namespace == "" || key == "" {
		return oops.Code(CodeInvalidKey).With("namespace", namespace).With("key", key).Errorf("namespace and key are required")
	}
	return nil
}
