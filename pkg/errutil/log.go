// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package errutil holds helpers for logging and asserting oops errors.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code and context.
// For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error(msg, attrs(err)...)
}

// LogErrors logs every error joined into err (see errors.Join) as its own
// record, so each failure keeps its code and context. A non-joined error is
// logged once.
func LogErrors(logger *slog.Logger, msg string, err error) {
	if err == nil {
		return
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		LogError(logger, msg, err)
		return
	}
	for _, e := range joined.Unwrap() {
		LogErrors(logger, msg, e)
	}
}

func attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	out := []any{"error", oopsErr.Error()}
	if code, _ := any(oopsErr.Code()).(string); code != "" {
		out = append(out, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		out = append(out, "context", ctx)
	}
	return out
}
