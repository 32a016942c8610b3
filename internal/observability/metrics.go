// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package observability provides Prometheus metrics and health probes.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Hook outcome labels.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics contains the Leaf Prometheus collectors and the registry they are
// registered on.
type Metrics struct {
	registry *prometheus.Registry

	HookCalls    *prometheus.CounterVec
	PluginState  *prometheus.GaugeVec
	PluginErrors *prometheus.CounterVec
	Requests     *prometheus.CounterVec
}

// NewMetrics creates a private registry with the Go and process collectors
// plus the Leaf metrics.
func NewMetrics() *Metrics {
	// Create a new registry to avoid polluting the global one
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		HookCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaf_event_hook_calls_total",
				Help: "Total number of event hook invocations by event and outcome",
			},
			[]string{"event", "status"},
		),
		PluginState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leaf_plugin_state",
				Help: "Current plugin state; 1 for the state the plugin is in, 0 otherwise",
			},
			[]string{"plugin", "state"},
		),
		PluginErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaf_plugin_errors_total",
				Help: "Total number of plugin failures by plugin and error kind",
			},
			[]string{"plugin", "code"},
		),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaf_http_requests_total",
				Help: "Total number of HTTP requests by route group and status class",
			},
			[]string{"group", "status"},
		),
	}

	registry.MustRegister(m.HookCalls, m.PluginState, m.PluginErrors, m.Requests)
	return m
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHook counts one hook invocation.
func (m *Metrics) RecordHook(event, status string) {
	m.HookCalls.WithLabelValues(event, status).Inc()
}

// SetPluginState marks state as the current state of plugin among states.
func (m *Metrics) SetPluginState(plugin, state string, states []string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.PluginState.WithLabelValues(plugin, s).Set(v)
	}
}

// RecordPluginError counts one plugin failure.
func (m *Metrics) RecordPluginError(plugin, code string) {
	m.PluginErrors.WithLabelValues(plugin, code).Inc()
}

// RecordRequest counts one HTTP response.
func (m *Metrics) RecordRequest(group string, status int) {
	m.Requests.WithLabelValues(group, statusClass(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
