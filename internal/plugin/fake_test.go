// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package plugin_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leafkit/leaf/internal/plugin"
)

// journal records lifecycle calls across plugins in call order.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type fakePlugin struct {
	j         *journal
	name      string
	loadErr   error
	initErr   error
	stopErr   error
	stopBlock chan struct{}
	stopDelay time.Duration
	onInit    func(env plugin.Env) error
}

func (p *fakePlugin) Load(_ context.Context, m *plugin.Manifest, _ string) error {
	p.name = m.Name
	p.j.add("load:" + p.name)
	return p.loadErr
}

func (p *fakePlugin) Init(_ context.Context, env plugin.Env) error {
	p.j.add("init:" + p.name)
	if p.initErr != nil {
		return p.initErr
	}
	if p.onInit != nil {
		return p.onInit(env)
	}
	return nil
}

func (p *fakePlugin) Stop(ctx context.Context) error {
	p.j.add("stop:" + p.name)
	if p.stopBlock != nil {
		select {
		case <-p.stopBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.stopDelay > 0 {
		select {
		case <-time.After(p.stopDelay):
		case <-ctx.Done():
			p.j.add("stop-cut:" + p.name)
			return ctx.Err()
		}
	}
	return p.stopErr
}

func builtin(name string, autorun bool) plugin.Manifest {
	return plugin.Manifest{Name: name, Version: "1.0.0", Autorun: autorun}
}

func register(t *testing.T, c *plugin.Catalog, m plugin.Manifest, p *fakePlugin) {
	t.Helper()
	require.NoError(t, c.Register(m, func() plugin.Plugin {
		clone := *p
		return &clone
	}))
}

// dirRuntime loads binary plugins whose executable exists in their
// directory and fails the others.
func dirRuntime(j *journal) plugin.Factory {
	return func() plugin.Plugin {
		return &execCheck{fakePlugin: fakePlugin{j: j}}
	}
}

type execCheck struct {
	fakePlugin
}

func (p *execCheck) Load(ctx context.Context, m *plugin.Manifest, dir string) error {
	if err := p.fakePlugin.Load(ctx, m, dir); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, m.BinaryPlugin.Executable)); err != nil {
		return errors.New("executable missing")
	}
	return nil
}

func writePlugin(t *testing.T, root, dir, manifest string, files ...string) {
	t.Helper()
	path := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(path, 0o750))
	if manifest != "" {
		require.NoError(t, os.WriteFile(filepath.Join(path, plugin.ManifestFile), []byte(manifest), 0o600))
	}
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(path, f), []byte("#!/bin/sh\n"), 0o600))
	}
}

func binaryManifest(name string, autorun bool) string {
	m := "name: " + name + "\nversion: 1.0.0\ntype: binary\nbinary-plugin:\n  executable: run\n"
	if autorun {
		m += "autorun: true\n"
	}
	return m
}

type recordingMetrics struct {
	mu     sync.Mutex
	states map[string]string
	errors map[string][]string
}

func (r *recordingMetrics) SetPluginState(p, state string, _ []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states == nil {
		r.states = make(map[string]string)
	}
	r.states[p] = state
}

func (r *recordingMetrics) RecordPluginError(p, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errors == nil {
		r.errors = make(map[string][]string)
	}
	r.errors[p] = append(r.errors[p], code)
}

func ctxTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
