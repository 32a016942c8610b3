// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer) *slog.Logger {
	t.Helper()
	l, err := New("leaf", "1.2.3", Config{Level: "debug", Format: FormatJSON}, WithConsoleWriter(buf))
	require.NoError(t, err)
	return l.Logger()
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "not JSON: %s", buf.String())
	return entry
}

func TestContextHandler_ServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(t, &buf).Info("booted")

	entry := decode(t, &buf)
	assert.Equal(t, "booted", entry["msg"])
	assert.Equal(t, "leaf", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.NotContains(t, entry, "trace_id")
}

func TestContextHandler_SpanIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(t, &buf)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	logger.InfoContext(ctx, "traced")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestContextHandler_ContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(t, &buf).With("component", "plugins")

	ctx := WithAttrs(context.Background(), slog.String("event", "leaf.exit"))
	ctx = WithAttrs(ctx, slog.String("hook", "plugin.echo"))
	logger.WarnContext(ctx, "hook slow")

	entry := decode(t, &buf)
	assert.Equal(t, "leaf.exit", entry["event"])
	assert.Equal(t, "plugin.echo", entry["hook"])
	assert.Equal(t, "plugins", entry["component"])
}

func TestWithAttrs_DoesNotLeakIntoParent(t *testing.T) {
	parent := WithAttrs(context.Background(), slog.String("event", "leaf.exit"))
	a := WithAttrs(parent, slog.String("hook", "a"))
	b := WithAttrs(parent, slog.String("hook", "b"))

	assert.Len(t, Attrs(parent), 1)
	assert.Equal(t, "a", Attrs(a)[1].Value.String())
	assert.Equal(t, "b", Attrs(b)[1].Value.String())
	assert.Same(t, parent, WithAttrs(parent))
	assert.Nil(t, Attrs(context.Background()))
}

func TestFanoutHandler_GroupsReachEveryOutput(t *testing.T) {
	var a, b bytes.Buffer
	h := &fanoutHandler{
		min: slog.LevelInfo,
		outputs: []slog.Handler{
			newFormatHandler(FormatJSON, &a, slog.LevelInfo),
			newFormatHandler(FormatText, &b, slog.LevelInfo),
		},
	}
	logger := slog.New(h).WithGroup("request").With("path", "/weixin")

	logger.Debug("dropped")
	logger.Info("handled")

	assert.Contains(t, a.String(), `"request":{"path":"/weixin"}`)
	assert.Contains(t, b.String(), "request.path=/weixin")
	assert.NotContains(t, a.String(), "dropped")
}
