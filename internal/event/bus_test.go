// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package event_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/pkg/errutil"
)

func TestBus_AddThenLookup(t *testing.T) {
	bus := event.NewBus()
	for _, id := range []string{"leaf.exit", "leaf.boot", "plugin.echo.ready"} {
		e := event.New(id, event.Args{}, "test event")
		require.NoError(t, bus.Add(e))

		got, err := bus.Event(id)
		require.NoError(t, err)
		assert.Same(t, e, got)
	}
	assert.Equal(t, []string{"leaf.boot", "leaf.exit", "plugin.echo.ready"}, bus.Events())
}

func TestBus_EventNotFound(t *testing.T) {
	bus := event.NewBus()
	_, err := bus.Event("nonexistent")
	errutil.AssertErrorCode(t, err, event.KindEventNotFound.Code)
	errutil.AssertErrorContext(t, err, "event", "nonexistent")
}

func TestBus_AddRejectsInvalidNames(t *testing.T) {
	bus := event.NewBus()

	err := bus.Add(event.New("exit", event.Args{}, ""))
	errutil.AssertErrorCode(t, err, event.KindInvalidEventName.Code)

	err = bus.Add(event.New("9leaf.exit", event.Args{}, ""))
	errutil.AssertErrorCode(t, err, event.KindInvalidRootName.Code)

	assert.Empty(t, bus.Events(), "failed adds must leave the bus unchanged")
}

func TestBus_WithRoots(t *testing.T) {
	bus := event.NewBus(event.WithRoots("leaf", "plugin"))

	require.NoError(t, bus.Add(event.New("leaf.exit", event.Args{}, "")))
	require.NoError(t, bus.Add(event.New("plugin.loaded", event.Args{}, "")))

	err := bus.Add(event.New("other.exit", event.Args{}, ""))
	errutil.AssertErrorCode(t, err, event.KindInvalidRootName.Code)
}

func TestBus_DuplicateIdentifier(t *testing.T) {
	bus := event.NewBus()
	first := event.New("leaf.exit", event.Args{}, "first")
	require.NoError(t, bus.Add(first))

	err := bus.Add(event.New("leaf.exit", event.Args{}, "second"))
	errutil.AssertErrorCode(t, err, event.KindEventExists.Code)

	got, err := bus.Event("leaf.exit")
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestBus_MaxEvents(t *testing.T) {
	bus := event.NewBus(event.WithMaxEvents(2))
	require.NoError(t, bus.Add(event.New("leaf.one", event.Args{}, "")))
	require.NoError(t, bus.Add(event.New("leaf.two", event.Args{}, "")))

	err := bus.Add(event.New("leaf.three", event.Args{}, ""))
	errutil.AssertErrorCode(t, err, event.KindReachedMaxReg.Code)
	assert.Len(t, bus.Events(), 2)
}

func TestBus_MaxHooks(t *testing.T) {
	bus := event.NewBus(event.WithMaxHooks(1))
	e := event.New("leaf.exit", event.Args{}, "")
	require.NoError(t, bus.Add(e))

	noop := func(context.Context, event.Args) error { return nil }
	require.NoError(t, e.Hook(noop))
	err := e.Hook(noop)
	errutil.AssertErrorCode(t, err, event.KindReachedMaxReg.Code)
	assert.Len(t, e.Hooks(), 1)
}

func TestBus_MaxHooksAppliesToPreHookedEvents(t *testing.T) {
	bus := event.NewBus(event.WithMaxHooks(1))
	e := event.New("leaf.exit", event.Args{}, "")
	noop := func(context.Context, event.Args) error { return nil }
	require.NoError(t, e.Hook(noop))
	require.NoError(t, e.Hook(noop))

	err := bus.Add(e)
	errutil.AssertErrorCode(t, err, event.KindReachedMaxReg.Code)
	assert.Empty(t, bus.Events())
}

func TestBus_HookAndNotifyByID(t *testing.T) {
	bus := event.NewBus()
	require.NoError(t, bus.Add(event.New("leaf.exit", event.Args{}, "")))

	called := 0
	require.NoError(t, bus.Hook("leaf.exit", func(context.Context, event.Args) error {
		called++
		return nil
	}))
	require.NoError(t, bus.Notify(context.Background(), "leaf.exit", event.Args{}))
	assert.Equal(t, 1, called)

	errutil.AssertErrorCode(t, bus.Hook("leaf.missing", nil), event.KindEventNotFound.Code)
	errutil.AssertErrorCode(t, bus.Notify(context.Background(), "leaf.missing", event.Args{}), event.KindEventNotFound.Code)
}

func TestBus_ConcurrentLookups(t *testing.T) {
	bus := event.NewBus()
	for i := range 10 {
		require.NoError(t, bus.Add(event.New(fmt.Sprintf("leaf.e%d", i), event.Args{}, "")))
	}

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bus.Event(fmt.Sprintf("leaf.e%d", i%10))
			assert.NoError(t, err)
			_ = bus.Events()
		}()
	}
	wg.Wait()
}
