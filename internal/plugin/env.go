// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package plugin

import (
	"context"
	"log/slog"
	"maps"

	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/event"
)

// env is the Env of one plugin incarnation.
type env struct {
	m          *Manager
	name       string
	generation uint64
	manifest   *Manifest
}

func (v *env) Name() string { return v.name }

func (v *env) Logger() *slog.Logger {
	return v.m.logger.With("plugin", v.name)
}

func (v *env) Config() map[string]string {
	return maps.Clone(v.manifest.Config)
}

func (v *env) Hook(eventID string, h event.Hook) error {
	if h == nil {
		return errRuntime(v.name, oops.Errorf("nil hook for %s", eventID))
	}
	if v.m.bus == nil {
		return errRuntime(v.name, oops.Errorf("no event bus available"))
	}
	if !v.m.enforcer.CanHook(v.name, eventID) {
		return errCapabilityDenied(v.name, eventID)
	}

	evt, err := v.m.bus.Event(eventID)
	if err != nil {
		return err
	}

	name, generation := v.name, v.generation
	return evt.HookNamed("plugin."+name, func(ctx context.Context, args event.Args) error {
		if !v.m.current(name, generation) {
			return nil
		}
		if err := h(ctx, args); err != nil {
			_ = v.m.ReportRuntimeError(name, err)
			return err
		}
		return nil
	})
}

func (v *env) ReportError(err error) {
	_ = v.m.ReportRuntimeError(v.name, err)
}
