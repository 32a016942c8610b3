// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package boot

import (
	"context"

	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/internal/plugin"
	"github.com/leafkit/leaf/internal/plugin/capability"
	"github.com/leafkit/leaf/internal/plugin/goplugin"
	"github.com/leafkit/leaf/internal/plugin/hostfunc"
	"github.com/leafkit/leaf/internal/plugin/lua"
	"github.com/leafkit/leaf/pkg/errutil"
)

// PluginsPrefix is where the plugin admin routes are mounted.
const PluginsPrefix = "/plugins"

// Plugins creates the plugin manager over cfg's source, registers the
// plugin error kinds, scans, mounts the admin routes and hooks StopAll onto
// leaf.exit. Per-plugin failures are logged and kept in the scan report;
// only an unreadable source fails the step.
func (i *Init) Plugins(ctx context.Context, cfg plugin.Config) (*plugin.Manager, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	srv, err := i.integration("plugins", append(plugin.Kinds(), capability.Kinds()...))
	if err != nil {
		return nil, err
	}
	logger := i.logger().With("component", "plugins")

	hostOpts := []hostfunc.Option{
		hostfunc.WithScheduler(i.modules.Schedule()),
		hostfunc.WithLogger(logger),
	}
	if db := i.modules.Database(); db != nil {
		hostOpts = append(hostOpts, hostfunc.WithKVStore(db.KV()))
	}
	host := hostfunc.New(hostOpts...)

	opts := append(cfg.Options(i.version),
		plugin.WithBus(i.modules.Events()),
		plugin.WithLogger(logger),
		plugin.WithMetrics(i.modules.Metrics()),
		plugin.WithRuntime(plugin.TypeLua, lua.Factory(lua.WithHostFunctions(host))),
		plugin.WithRuntime(plugin.TypeBinary, goplugin.Factory(goplugin.WithLogger(logger))),
	)
	manager, err := plugin.NewManager(cfg.Source(), opts...)
	if err != nil {
		return nil, err
	}

	report, err := manager.Scan(ctx, cfg.AutorunOnly)
	if err != nil {
		return nil, err
	}
	errutil.LogErrors(logger, "plugin failed", report.Err())
	logger.Info("plugins scanned",
		"source", manager.Source().String(),
		"loaded", len(report.Loaded),
		"running", len(report.Running),
		"failed", len(report.Failures))

	if err := srv.RegisterRouteGroup(plugin.NewRoutes(manager, i.modules.Errors()), PluginsPrefix); err != nil {
		return nil, err
	}
	// StopAll bounds every plugin by the stop timeout itself.
	if err := i.exit.HookNamed("plugins.stop", func(ctx context.Context, _ event.Args) error {
		return manager.StopAll(ctx)
	}, event.HookTimeout(0)); err != nil {
		return nil, err
	}

	i.modules.SetPlugins(manager)
	return manager, nil
}
