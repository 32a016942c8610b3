// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package plugin

import (
	"context"
	"log/slog"

	"github.com/leafkit/leaf/internal/event"
)

// Plugin is a unit of optional functionality with an explicit lifecycle.
// The manager calls Load once, Init at most once per Load, and Stop once
// after a successful Load.
type Plugin interface {
	// Load prepares the plugin from its manifest. dir is the plugin's
	// directory, empty for builtins.
	Load(ctx context.Context, manifest *Manifest, dir string) error
	// Init starts the plugin. env is the plugin's only handle on the host.
	Init(ctx context.Context, env Env) error
	// Stop releases everything Load and Init acquired.
	Stop(ctx context.Context) error
}

// Factory constructs an unloaded plugin instance.
type Factory func() Plugin

// Env is the host surface handed to a plugin at Init.
type Env interface {
	// Name is the plugin's identity.
	Name() string
	// Logger is scoped to the plugin.
	Logger() *slog.Logger
	// Config returns the manifest's config map.
	Config() map[string]string
	// Hook registers h on eventID if the plugin's event patterns allow it.
	// The hook is skipped once the plugin stops running.
	Hook(eventID string, h event.Hook) error
	// ReportError records a runtime failure without unloading the plugin.
	ReportError(err error)
}

// State is a plugin's position in its lifecycle.
type State string

// Plugin states.
const (
	StateUnloaded State = "unloaded"
	StateLoaded   State = "loaded"
	StateFailed   State = "failed"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
)

// States lists every state, in lifecycle order.
func States() []State {
	return []State{StateUnloaded, StateLoaded, StateFailed, StateRunning, StateStopped}
}

// active reports whether Stop still has to be called.
func (s State) active() bool {
	return s == StateLoaded || s == StateRunning
}
