// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package app holds the shared module registry: one slot per initialized
// subsystem. The boot sequence writes the slots; request handlers and
// plugins read them afterwards.
package app

import (
	"log/slog"
	"sync"

	"github.com/leafkit/leaf/internal/config"
	"github.com/leafkit/leaf/internal/errs"
	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/internal/logging"
	"github.com/leafkit/leaf/internal/observability"
	"github.com/leafkit/leaf/internal/plugin"
	"github.com/leafkit/leaf/internal/schedule"
	"github.com/leafkit/leaf/internal/server"
	"github.com/leafkit/leaf/internal/store"
	"github.com/leafkit/leaf/internal/weixin"
	"github.com/leafkit/leaf/internal/wxpay"
)

// Modules is the shared module registry. The zero value is empty and
// ready to use. Unset slots read as nil.
type Modules struct {
	mu       sync.RWMutex
	errors   *errs.Registry
	events   *event.Bus
	schedule *schedule.Manager
	server   *server.Server
	plugins  *plugin.Manager
	database *store.Pool
	logging  *logging.Logging
	metrics  *observability.Metrics
	weixin   *weixin.Suite
	wxpay    *wxpay.Suite
	config   *config.Config
}

// New returns an empty registry.
func New() *Modules { return &Modules{} }

func get[T any](m *Modules, slot *T) T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *slot
}

func set[T any](m *Modules, slot *T, v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*slot = v
}

// Errors returns the error registry.
func (m *Modules) Errors() *errs.Registry { return get(m, &m.errors) }

// SetErrors stores the error registry.
func (m *Modules) SetErrors(r *errs.Registry) { set(m, &m.errors, r) }

// Events returns the event bus.
func (m *Modules) Events() *event.Bus { return get(m, &m.events) }

// SetEvents stores the event bus.
func (m *Modules) SetEvents(b *event.Bus) { set(m, &m.events, b) }

// Schedule returns the task scheduler.
func (m *Modules) Schedule() *schedule.Manager { return get(m, &m.schedule) }

// SetSchedule stores the task scheduler.
func (m *Modules) SetSchedule(s *schedule.Manager) { set(m, &m.schedule, s) }

// Server returns the HTTP server handle.
func (m *Modules) Server() *server.Server { return get(m, &m.server) }

// SetServer stores the HTTP server handle.
func (m *Modules) SetServer(s *server.Server) { set(m, &m.server, s) }

// Plugins returns the plugin manager.
func (m *Modules) Plugins() *plugin.Manager { return get(m, &m.plugins) }

// SetPlugins stores the plugin manager.
func (m *Modules) SetPlugins(p *plugin.Manager) { set(m, &m.plugins, p) }

// Database returns the connection pool.
func (m *Modules) Database() *store.Pool { return get(m, &m.database) }

// SetDatabase stores the connection pool.
func (m *Modules) SetDatabase(p *store.Pool) { set(m, &m.database, p) }

// Logging returns the logging handle, or nil before logging is configured.
func (m *Modules) Logging() *logging.Logging { return get(m, &m.logging) }

// SetLogging stores the logging handle.
func (m *Modules) SetLogging(l *logging.Logging) { set(m, &m.logging, l) }

// Metrics returns the metrics collectors.
func (m *Modules) Metrics() *observability.Metrics { return get(m, &m.metrics) }

// SetMetrics stores the metrics collectors.
func (m *Modules) SetMetrics(mt *observability.Metrics) { set(m, &m.metrics, mt) }

// Weixin returns the messaging namespace.
func (m *Modules) Weixin() *weixin.Suite { return get(m, &m.weixin) }

// SetWeixin stores the messaging namespace.
func (m *Modules) SetWeixin(s *weixin.Suite) { set(m, &m.weixin, s) }

// Wxpay returns the payment namespace.
func (m *Modules) Wxpay() *wxpay.Suite { return get(m, &m.wxpay) }

// SetWxpay stores the payment namespace.
func (m *Modules) SetWxpay(s *wxpay.Suite) { set(m, &m.wxpay, s) }

// Config returns the loaded configuration.
func (m *Modules) Config() *config.Config { return get(m, &m.config) }

// SetConfig stores the loaded configuration.
func (m *Modules) SetConfig(c *config.Config) { set(m, &m.config, c) }

// Logger returns the configured logger, falling back to the process
// default.
func (m *Modules) Logger() *slog.Logger {
	if l := m.Logging(); l != nil {
		return l.Logger()
	}
	return slog.Default()
}
