// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package observability_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafkit/leaf/internal/observability"
)

func TestMetrics_RecordHook(t *testing.T) {
	m := observability.NewMetrics()
	m.RecordHook("leaf.exit", observability.StatusOK)
	m.RecordHook("leaf.exit", observability.StatusOK)
	m.RecordHook("leaf.exit", observability.StatusError)

	assert.InDelta(t, 2, testutil.ToFloat64(m.HookCalls.WithLabelValues("leaf.exit", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.HookCalls.WithLabelValues("leaf.exit", "error")), 0)
}

func TestMetrics_SetPluginState(t *testing.T) {
	m := observability.NewMetrics()
	states := []string{"loaded", "running", "stopped"}

	m.SetPluginState("echo", "running", states)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PluginState.WithLabelValues("echo", "running")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.PluginState.WithLabelValues("echo", "loaded")), 0)

	m.SetPluginState("echo", "stopped", states)
	assert.InDelta(t, 0, testutil.ToFloat64(m.PluginState.WithLabelValues("echo", "running")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PluginState.WithLabelValues("echo", "stopped")), 0)
}

func TestMetrics_RecordRequestStatusClass(t *testing.T) {
	m := observability.NewMetrics()
	m.RecordRequest("plugins", http.StatusOK)
	m.RecordRequest("plugins", http.StatusNotFound)
	m.RecordRequest("plugins", http.StatusBadGateway)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Requests.WithLabelValues("plugins", "2xx")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Requests.WithLabelValues("plugins", "4xx")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Requests.WithLabelValues("plugins", "5xx")), 0)
}

func TestMetrics_Handler(t *testing.T) {
	m := observability.NewMetrics()
	m.RecordPluginError("broken", "PLUGIN_IMPORT_ERROR")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)
	assert.True(t, strings.Contains(out, "# HELP"), "expected Prometheus HELP comments")
	assert.Contains(t, out, "go_")
	assert.Contains(t, out, `leaf_plugin_errors_total{code="PLUGIN_IMPORT_ERROR",plugin="broken"} 1`)
}

func TestHealthHandlers(t *testing.T) {
	rec := httptest.NewRecorder()
	observability.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz/liveness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", strings.TrimSpace(rec.Body.String()))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	ready := false
	handler := observability.ReadinessHandler(func(ctx context.Context) bool {
		return ready && ctx.Err() == nil
	})

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready", strings.TrimSpace(rec.Body.String()))

	ready = true
	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz/readiness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	observability.ReadinessHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/healthz/readiness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
