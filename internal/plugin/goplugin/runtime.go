// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package goplugin runs Leaf binary plugins as child processes using
// HashiCorp's go-plugin system over gRPC.
package goplugin

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/internal/plugin"
	"github.com/leafkit/leaf/pkg/pluginsdk"
)

// DefaultEventTimeout is the default timeout for plugin event handling.
const DefaultEventTimeout = 5 * time.Second

// Plugin is one binary plugin process.
type Plugin struct {
	factory      ClientFactory
	logger       *slog.Logger
	eventTimeout time.Duration

	mu      sync.Mutex
	name    string
	client  PluginClient
	handler pluginsdk.Handler
}

var _ plugin.Plugin = (*Plugin)(nil)

// Option configures a Plugin.
type Option func(*Plugin)

// WithClientFactory replaces the go-plugin client factory (for testing).
func WithClientFactory(f ClientFactory) Option {
	return func(p *Plugin) { p.factory = f }
}

// WithLogger sets the logger plugin process output goes to.
func WithLogger(l *slog.Logger) Option {
	return func(p *Plugin) { p.logger = l }
}

// WithEventTimeout bounds each event delivery.
func WithEventTimeout(d time.Duration) Option {
	return func(p *Plugin) { p.eventTimeout = d }
}

// New returns an unloaded binary plugin.
func New(opts ...Option) *Plugin {
	p := &Plugin{
		factory:      &DefaultClientFactory{},
		logger:       slog.Default(),
		eventTimeout: DefaultEventTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Factory is the plugin.Factory for TypeBinary.
func Factory(opts ...Option) plugin.Factory {
	return func() plugin.Plugin { return New(opts...) }
}

// Load starts the plugin process and dispenses its handler.
func (p *Plugin) Load(_ context.Context, m *plugin.Manifest, dir string) error {
	if m.BinaryPlugin == nil {
		return oops.In("goplugin").With("plugin", m.Name).Errorf("plugin %s is not a binary plugin", m.Name)
	}
	execPath, err := plugin.ResolvePath(dir, m.BinaryPlugin.Executable)
	if err != nil {
		return oops.In("goplugin").With("plugin", m.Name).Wrap(err)
	}
	if _, err := os.Stat(execPath); err != nil {
		return oops.In("goplugin").With("plugin", m.Name).With("path", execPath).
			Wrapf(err, "cannot access plugin executable")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return oops.In("goplugin").With("plugin", m.Name).Errorf("plugin %s already loaded", m.Name)
	}

	client := p.factory.NewClient(execPath, p.logger.With("plugin", m.Name))
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return oops.In("goplugin").With("plugin", m.Name).Wrapf(err, "failed to connect to plugin %s", m.Name)
	}

	raw, err := rpcClient.Dispense(pluginsdk.PluginName)
	if err != nil {
		client.Kill()
		return oops.In("goplugin").With("plugin", m.Name).Wrapf(err, "failed to dispense plugin %s", m.Name)
	}

	handler, ok := raw.(pluginsdk.Handler)
	if !ok {
		client.Kill()
		return oops.In("goplugin").With("plugin", m.Name).Errorf("plugin %s does not implement the plugin service", m.Name)
	}

	p.name = m.Name
	p.client = client
	p.handler = handler
	return nil
}

// Init sends the manifest config to the plugin and hooks every event it
// asks for.
func (p *Plugin) Init(ctx context.Context, env plugin.Env) error {
	handler := p.current()
	if handler == nil {
		return oops.In("goplugin").With("plugin", env.Name()).Errorf("plugin is not loaded")
	}

	resp, err := handler.Init(ctx, pluginsdk.InitRequest{Name: env.Name(), Config: env.Config()})
	if err != nil {
		return oops.In("goplugin").With("plugin", env.Name()).Wrapf(err, "plugin init failed")
	}
	for _, eventID := range resp.Events {
		if err := env.Hook(eventID, p.deliver(eventID)); err != nil {
			return err
		}
	}
	return nil
}

// Stop asks the plugin to stop and kills the process. Calling it again is
// a no-op.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	client, handler := p.client, p.handler
	p.client, p.handler = nil, nil
	p.mu.Unlock()

	if client == nil {
		return nil
	}
	defer client.Kill()

	if err := handler.Stop(ctx); err != nil {
		return oops.In("goplugin").With("plugin", p.name).Wrapf(err, "plugin stop failed")
	}
	return nil
}

// deliver forwards eventID to the plugin process. The RPC runs without
// holding the lock; a concurrent Stop makes it fail once the process dies.
func (p *Plugin) deliver(eventID string) event.Hook {
	return func(ctx context.Context, args event.Args) error {
		handler := p.current()
		if handler == nil {
			return nil
		}

		callCtx, cancel := context.WithTimeout(ctx, p.eventTimeout)
		defer cancel()

		err := handler.HandleEvent(callCtx, pluginsdk.Event{ID: eventID, Args: args.Positional, Kwargs: args.Keyword})
		if err != nil {
			return oops.In("goplugin").With("plugin", p.name).With("event", eventID).
				Wrapf(err, "plugin %s HandleEvent failed", p.name)
		}
		return nil
	}
}

func (p *Plugin) current() pluginsdk.Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}
