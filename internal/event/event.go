// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package event provides named extension points that other components hook
// into to be notified of lifecycle moments.
package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/logging"
)

// DefaultHookTimeout bounds a single hook invocation during notification.
const DefaultHookTimeout = 5 * time.Second

// Args carries positional and keyword arguments to hooks.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

// Merge returns a copy of a overlaid by over. Positional values of over
// replace those of a index by index and extra values are appended; keyword
// values of over replace those of a with the same key.
func (a Args) Merge(over Args) Args {
	out := Args{
		Positional: slices.Clone(a.Positional),
		Keyword:    maps.Clone(a.Keyword),
	}
	for i, v := range over.Positional {
		if i < len(out.Positional) {
			out.Positional[i] = v
		} else {
			out.Positional = append(out.Positional, v)
		}
	}
	if len(over.Keyword) > 0 && out.Keyword == nil {
		out.Keyword = make(map[string]any, len(over.Keyword))
	}
	for k, v := range over.Keyword {
		out.Keyword[k] = v
	}
	return out
}

// Arg returns the positional argument at i.
func (a Args) Arg(i int) (any, bool) {
	if i < 0 || i >= len(a.Positional) {
		return nil, false
	}
	return a.Positional[i], true
}

// Kwarg returns the keyword argument named key.
func (a Args) Kwarg(key string) (any, bool) {
	v, ok := a.Keyword[key]
	return v, ok
}

// Hook is a callback registered against an event.
type Hook func(ctx context.Context, args Args) error

// Recorder observes hook outcomes, e.g. for metrics.
type Recorder interface {
	RecordHook(event, status string)
}

type registration struct {
	name    string
	fn      Hook
	timeout *time.Duration
}

// HookOption configures a single hook registration.
type HookOption func(*registration)

// HookTimeout bounds this hook by d instead of the bus-wide hook timeout.
// Zero or negative leaves the hook unbounded, for hooks that bound their
// own work.
func HookTimeout(d time.Duration) HookOption {
	return func(r *registration) { r.timeout = &d }
}

func (r registration) label(i int) string {
	if r.name != "" {
		return r.name
	}
	return fmt.Sprintf("#%d", i+1)
}

// Event is a named extension point with an ordered list of hooks.
// It is safe for concurrent use.
type Event struct {
	id          string
	description string
	defaults    Args

	hooks    []registration
	maxHooks int
	timeout  time.Duration
	recorder Recorder
	mu       sync.RWMutex
}

// New creates an event. It is not usable by other components until added to
// a Bus, but hooks may be attached beforehand.
func New(id string, defaults Args, description string) *Event {
	return &Event{
		id:          id,
		description: description,
		defaults:    defaults.Merge(Args{}),
		timeout:     DefaultHookTimeout,
	}
}

// ID returns the event identifier.
func (e *Event) ID() string { return e.id }

// Description returns the human-readable description.
func (e *Event) Description() string { return e.description }

// Defaults returns a copy of the default invocation arguments.
func (e *Event) Defaults() Args {
	return e.defaults.Merge(Args{})
}

// Hook appends h to the hook list. The same callback may be hooked more than
// once and then runs once per registration.
func (e *Event) Hook(h Hook) error {
	return e.HookNamed("", h)
}

// HookNamed appends h under a name used in errors and logs.
func (e *Event) HookNamed(name string, h Hook, opts ...HookOption) error {
	if h == nil {
		return oops.Code(KindHookFailed.Code).With("event", e.id).Errorf("cannot hook a nil callback")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.maxHooks > 0 && len(e.hooks) >= e.maxHooks {
		return ErrReachedMaxReg(e.id, e.maxHooks)
	}
	r := registration{name: name, fn: h}
	for _, opt := range opts {
		opt(&r)
	}
	e.hooks = append(e.hooks, r)
	return nil
}

// Hooks returns the labels of registered hooks in registration order.
func (e *Event) Hooks() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, len(e.hooks))
	for i, r := range e.hooks {
		out[i] = r.label(i)
	}
	return out
}

// Notify invokes every hook in registration order with the default arguments
// merged with args. A failing, panicking or timed-out hook does not stop the
// pass: all failures are collected and returned joined, each tagged with the
// event and hook label.
//
// Hooks registered while a notification is running are not part of it.
// Records a hook logs with its context carry the event and hook label.
func (e *Event) Notify(ctx context.Context, args Args) error {
	e.mu.RLock()
	hooks := slices.Clone(e.hooks)
	merged := e.defaults.Merge(args)
	timeout := e.timeout
	recorder := e.recorder
	e.mu.RUnlock()

	var failures []error
	for i, r := range hooks {
		hookCtx := logging.WithAttrs(ctx, slog.String("event", e.id), slog.String("hook", r.label(i)))
		limit := timeout
		if r.timeout != nil {
			limit = *r.timeout
		}
		err := call(hookCtx, r.fn, merged.Merge(Args{}), limit)
		status := "ok"
		if err != nil {
			status = "error"
			failures = append(failures, oops.Code(KindHookFailed.Code).
				With("event", e.id).
				With("hook", r.label(i)).
				Wrapf(err, "hook %s on %s failed", r.label(i), e.id))
		}
		if recorder != nil {
			recorder.RecordHook(e.id, status)
		}
	}
	return errors.Join(failures...)
}

func (e *Event) configure(maxHooks int, timeout time.Duration, recorder Recorder) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if maxHooks > 0 && len(e.hooks) > maxHooks {
		return ErrReachedMaxReg(e.id, maxHooks)
	}
	e.maxHooks = maxHooks
	e.timeout = timeout
	e.recorder = recorder
	return nil
}

// call runs h, bounded by timeout when positive. A hook that outlives its
// deadline is abandoned; its goroutine finishes on its own.
func call(ctx context.Context, h Hook, args Args, timeout time.Duration) error {
	if timeout <= 0 {
		return invoke(ctx, h, args)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- invoke(ctx, h, args) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return oops.With("timeout", timeout.String()).Wrapf(ctx.Err(), "hook did not return in time")
	}
}

func invoke(ctx context.Context, h Hook, args Args) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.With("panic", fmt.Sprint(r)).Errorf("hook panicked: %v", r)
		}
	}()
	return h(ctx, args)
}
