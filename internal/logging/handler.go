// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package logging builds the process logger: one slog handler per output
// behind a shared level, with trace ids and context attributes stamped on
// every record.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/trace"
)

type ctxAttrsKey struct{}

// WithAttrs returns a context whose records carry attrs after any the
// parent context already carries. A key set twice is written twice.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	prev := Attrs(ctx)
	return context.WithValue(ctx, ctxAttrsKey{}, append(slices.Clip(prev), attrs...))
}

// Attrs returns the attributes attached to ctx with WithAttrs.
func Attrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)
	return attrs
}

// contextHandler stamps context attributes and the active span onto each
// record. Service and version are bound once at construction.
type contextHandler struct {
	next slog.Handler
}

func newContextHandler(next slog.Handler, service, version string) *contextHandler {
	return &contextHandler{next: next.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(Attrs(ctx)...)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	//nolint:wrapcheck // handlers pass errors through untouched
	return h.next.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}

// fanoutHandler sends each record to every output whose level admits it,
// after the shared minimum level.
type fanoutHandler struct {
	min     slog.Leveler
	outputs []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.min.Level() {
		return false
	}
	return slices.ContainsFunc(h.outputs, func(o slog.Handler) bool {
		return o.Enabled(ctx, level)
	})
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, o := range h.outputs {
		if !o.Enabled(ctx, r.Level) {
			continue
		}
		if err := o.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(o slog.Handler) slog.Handler { return o.WithAttrs(attrs) })
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(o slog.Handler) slog.Handler { return o.WithGroup(name) })
}

func (h *fanoutHandler) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	outputs := make([]slog.Handler, len(h.outputs))
	for i, o := range h.outputs {
		outputs[i] = fn(o)
	}
	return &fanoutHandler{min: h.min, outputs: outputs}
}

// newFormatHandler returns a text handler for FormatText and JSON otherwise.
func newFormatHandler(format string, w io.Writer, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatText {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
