// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// An expired timer whose callback is still waiting for the lock must not
// run a task that Cancel already removed.
func TestFire_SkipsTaskCancelledAfterTimerExpired(t *testing.T) {
	m := New()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, m.Stop(ctx))
	}()

	var ran atomic.Bool
	id, err := m.After("late", time.Hour, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)

	m.mu.Lock()
	tk := m.tasks[id]
	m.mu.Unlock()
	require.NotNil(t, tk)

	assert.True(t, m.Cancel(id))
	m.fire(tk)
	assert.False(t, ran.Load())
}

func TestPeriodic_SkipsRunAfterCancel(t *testing.T) {
	m := New()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, m.Stop(ctx))
	}()

	var runs atomic.Int32
	id, err := m.Every("tick", "@hourly", func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	m.mu.Lock()
	job := m.cron.Entry(m.tasks[id].entryID).Job
	m.mu.Unlock()

	job.Run()
	require.Equal(t, int32(1), runs.Load())

	assert.True(t, m.Cancel(id))
	job.Run()
	assert.Equal(t, int32(1), runs.Load(), "a dispatch racing Cancel does nothing")
}
