// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package event

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Bus owns the process-wide mapping from identifier to Event.
// It is safe for concurrent use.
type Bus struct {
	events      map[string]*Event
	roots       map[string]struct{}
	maxEvents   int
	maxHooks    int
	hookTimeout time.Duration
	recorder    Recorder
	mu          sync.RWMutex
}

// Option configures a Bus.
type Option func(*Bus)

// WithMaxEvents caps the number of events the bus accepts. Zero means no cap.
func WithMaxEvents(n int) Option {
	return func(b *Bus) { b.maxEvents = n }
}

// WithMaxHooks caps the number of hooks per event. Zero means no cap.
func WithMaxHooks(n int) Option {
	return func(b *Bus) { b.maxHooks = n }
}

// WithRoots restricts event identifiers to the given namespace roots.
func WithRoots(roots ...string) Option {
	return func(b *Bus) {
		b.roots = make(map[string]struct{}, len(roots))
		for _, r := range roots {
			b.roots[r] = struct{}{}
		}
	}
}

// WithHookTimeout bounds every hook invocation. Zero or negative disables
// the bound.
func WithHookTimeout(d time.Duration) Option {
	return func(b *Bus) { b.hookTimeout = d }
}

// WithRecorder attaches a hook outcome recorder to every event on the bus.
func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		events:      make(map[string]*Event),
		hookTimeout: DefaultHookTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add registers e under its identifier. On failure the bus is unchanged.
func (b *Bus) Add(e *Event) error {
	if err := validateName(e.ID(), b.roots); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.events[e.ID()]; ok {
		return ErrEventExists(e.ID())
	}
	if b.maxEvents > 0 && len(b.events) >= b.maxEvents {
		return ErrReachedMaxReg("", b.maxEvents)
	}
	if err := e.configure(b.maxHooks, b.hookTimeout, b.recorder); err != nil {
		return err
	}

	b.events[e.ID()] = e
	return nil
}

// Event returns the event registered under id.
func (b *Bus) Event(id string) (*Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.events[id]
	if !ok {
		return nil, ErrEventNotFound(id)
	}
	return e, nil
}

// Events returns all registered identifiers, sorted.
func (b *Bus) Events() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.events))
	for id := range b.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Hook appends h to the event registered under id.
func (b *Bus) Hook(id string, h Hook) error {
	e, err := b.Event(id)
	if err != nil {
		return err
	}
	return e.Hook(h)
}

// Notify notifies the event registered under id.
func (b *Bus) Notify(ctx context.Context, id string, args Args) error {
	e, err := b.Event(id)
	if err != nil {
		return err
	}
	return e.Notify(ctx, args)
}
