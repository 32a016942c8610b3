// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package main implements an echo plugin for Leaf.
// It logs every event it receives, prefixed with its configured prefix.
//
// Build it into the plugin directory next to its manifest:
//
//	go build -o plugins/echo/echo-plugin ./plugins/echo
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/leafkit/leaf/pkg/pluginsdk"
)

// Echo logs events back out through the host.
type Echo struct {
	out    io.Writer
	mu     sync.Mutex
	prefix string
	logger *slog.Logger
}

// Init reads the prefix and subscribes to the configured events.
func (e *Echo) Init(_ context.Context, req pluginsdk.InitRequest) (pluginsdk.InitResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.prefix = req.Config["prefix"]
	if e.prefix == "" {
		e.prefix = "echo:"
	}
	// go-plugin forwards stderr to the host logger.
	e.logger = slog.New(slog.NewJSONHandler(e.out, nil)).With("plugin", req.Name)

	events := []string{"leaf.exit"}
	if raw := strings.TrimSpace(req.Config["events"]); raw != "" {
		events = strings.Split(raw, ",")
		for i := range events {
			events[i] = strings.TrimSpace(events[i])
		}
	}
	e.logger.Info("echo plugin ready", "events", events)
	return pluginsdk.InitResponse{Events: events}, nil
}

// HandleEvent logs the event.
func (e *Echo) HandleEvent(_ context.Context, evt pluginsdk.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.logger == nil {
		return fmt.Errorf("event %s before init", evt.ID)
	}
	e.logger.Info(e.prefix+" "+evt.ID, "args", evt.Args, "kwargs", formatKwargs(evt.Kwargs))
	return nil
}

// Stop flushes nothing; the process is killed right after.
func (e *Echo) Stop(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.logger != nil {
		e.logger.Info("echo plugin stopping")
	}
	return nil
}

func formatKwargs(kwargs map[string]any) string {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, kwargs[k]))
	}
	return strings.Join(parts, " ")
}

func main() {
	pluginsdk.Serve(&pluginsdk.ServeConfig{Handler: &Echo{out: os.Stderr}})
}
