// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafkit/leaf/pkg/errutil"
)

func TestKV_Get(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	mock.ExpectQuery(`SELECT value FROM leaf_plugin_kv`).
		WithArgs("greeter", "count").
		WillReturnRows(mock.NewRows([]string{"value"}).AddRow([]byte("3")))
	mock.ExpectQuery(`SELECT value FROM leaf_plugin_kv`).
		WithArgs("greeter", "missing").
		WillReturnRows(mock.NewRows([]string{"value"}))
	mock.ExpectQuery(`SELECT value FROM leaf_plugin_kv`).
		WithArgs("greeter", "broken").
		WillReturnError(errors.New("connection reset"))

	kv := New(mock).KV()
	ctx := context.Background()

	value, err := kv.Get(ctx, "greeter", "count")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), value)

	value, err = kv.Get(ctx, "greeter", "missing")
	require.NoError(t, err)
	assert.Nil(t, value)

	_, err = kv.Get(ctx, "greeter", "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKV_SetAndDelete(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	mock.ExpectExec(`INSERT INTO leaf_plugin_kv`).
		WithArgs("greeter", "count", []byte("4")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM leaf_plugin_kv`).
		WithArgs("greeter", "count").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM leaf_plugin_kv`).
		WithArgs("greeter", "count").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	kv := New(mock).KV()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "greeter", "count", []byte("4")))
	require.NoError(t, kv.Delete(ctx, "greeter", "count"))
	require.NoError(t, kv.Delete(ctx, "greeter", "count"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKV_RejectsEmptyKey(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()

	kv := New(mock).KV()
	ctx := context.Background()
	_, err := kv.Get(ctx, "", "k")
	errutil.AssertErrorCode(t, err, CodeInvalidKey)
	errutil.AssertErrorCode(t, kv.Set(ctx, "greeter", "", nil), CodeInvalidKey)
	errutil.AssertErrorCode(t, kv.Delete(ctx, "", ""), CodeInvalidKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKV_AfterStop(t *testing.T) {
	mock := newMock(t)
	mock.ExpectClose()

	p := New(mock)
	require.NoError(t, p.Stop(context.Background()))
	_, err := p.KV().Get(context.Background(), "greeter", "count")
	errutil.AssertErrorCode(t, err, CodeStopped)
}
