// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/internal/plugin/capability"
	"github.com/leafkit/leaf/pkg/errutil"
)

// DefaultStopTimeout bounds each plugin's Stop.
const DefaultStopTimeout = 5 * time.Second

// Metrics receives plugin state changes and failures.
type Metrics interface {
	SetPluginState(plugin, state string, states []string)
	RecordPluginError(plugin, code string)
}

type entry struct {
	manifest      *Manifest
	ref           string
	dir           string
	factory       Factory
	instance      Plugin
	state         State
	generation    uint64
	lastErr       error
	lastCode      string
	runtimeErrors int
}

// Manager discovers plugins from a Source and drives their lifecycle.
//
// Scan, Start, Stop, StopAll and Reload are serialized against each other.
// Get, List and ReportRuntimeError may be called concurrently with them.
type Manager struct {
	source      Source
	bus         *event.Bus
	enforcer    *capability.Enforcer
	runtimes    map[Type]Factory
	host        *semver.Version
	ignore      []glob.Glob
	stopTimeout time.Duration
	logger      *slog.Logger
	metrics     Metrics

	admin   sync.Mutex
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	report  Report
}

// Option configures a Manager.
type Option func(*Manager) error

// WithBus sets the event bus plugins hook into.
func WithBus(b *event.Bus) Option {
	return func(m *Manager) error {
		m.bus = b
		return nil
	}
}

// WithRuntime registers the factory used for plugins of type t.
func WithRuntime(t Type, f Factory) Option {
	return func(m *Manager) error {
		m.runtimes[t] = f
		return nil
	}
}

// WithHostVersion sets the version checked against manifest requires
// constraints. Without it the constraints are not enforced.
func WithHostVersion(v string) Option {
	return func(m *Manager) error {
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return oops.With("version", v).Wrapf(err, "invalid host version")
		}
		m.host = parsed
		return nil
	}
}

// WithIgnore skips plugins whose names match any of the glob patterns.
func WithIgnore(patterns ...string) Option {
	return func(m *Manager) error {
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return oops.With("pattern", p).Wrapf(err, "invalid ignore pattern")
			}
			m.ignore = append(m.ignore, g)
		}
		return nil
	}
}

// WithStopTimeout bounds each plugin's Stop.
func WithStopTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d > 0 {
			m.stopTimeout = d
		}
		return nil
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) error {
		if l != nil {
			m.logger = l
		}
		return nil
	}
}

// WithMetrics reports plugin states and failures to mt.
func WithMetrics(mt Metrics) Option {
	return func(m *Manager) error {
		m.metrics = mt
		return nil
	}
}

// WithEnforcer shares a capability enforcer with the caller.
func WithEnforcer(e *capability.Enforcer) Option {
	return func(m *Manager) error {
		if e != nil {
			m.enforcer = e
		}
		return nil
	}
}

// NewManager creates a manager over source.
func NewManager(source Source, opts ...Option) (*Manager, error) {
	if source == nil {
		source = DefaultCatalog
	}
	m := &Manager{
		source:      source,
		enforcer:    capability.NewEnforcer(),
		runtimes:    make(map[Type]Factory),
		stopTimeout: DefaultStopTimeout,
		logger:      slog.Default(),
		entries:     make(map[string]*entry),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Source returns the discovery root.
func (m *Manager) Source() Source { return m.source }

// Scan loads every candidate not already known. When autorunOnly is set,
// candidates without autorun stay loaded but inactive; otherwise every
// loaded plugin is initialized. Per-plugin failures land in the report;
// the error is non-nil only when the source cannot be enumerated.
func (m *Manager) Scan(ctx context.Context, autorunOnly bool) (Report, error) {
	m.admin.Lock()
	defer m.admin.Unlock()

	candidates, err := m.source.Candidates(ctx)
	if err != nil {
		return Report{}, oops.With("source", m.source.String()).Wrapf(err, "enumerate plugins")
	}

	var report Report
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		name := c.Name()
		if c.Err != nil {
			m.recordError(name, KindImportError.Code)
			m.fail(&report, name, c.Ref, KindImportError.Code, c.Err)
			continue
		}
		if m.ignored(name) {
			report.Skipped = append(report.Skipped, name)
			continue
		}
		if _, dup := seen[name]; dup {
			err := errImportf(name, "plugin %s is also provided by an earlier candidate", name)
			m.recordError(name, KindImportError.Code)
			m.fail(&report, name, c.Ref, KindImportError.Code, err)
			continue
		}
		seen[name] = struct{}{}

		if known, ok := m.lookup(name); ok {
			// A plugin that is still failed stays a failure across rescans.
			if f, failed := m.knownFailure(known); failed {
				report.Failures = append(report.Failures, f)
				continue
			}
			report.Skipped = append(report.Skipped, name)
			continue
		}

		e := &entry{manifest: c.Manifest, ref: c.Ref, dir: c.Dir, factory: c.Factory, state: StateUnloaded}
		m.insert(e)

		if err := m.load(ctx, e); err != nil {
			m.fail(&report, name, c.Ref, KindImportError.Code, err)
			continue
		}
		if autorunOnly && !e.manifest.Autorun {
			report.Loaded = append(report.Loaded, name)
			continue
		}
		if err := m.init(ctx, e); err != nil {
			m.fail(&report, name, c.Ref, KindInitError.Code, err)
			continue
		}
		report.Running = append(report.Running, name)
	}

	m.mu.Lock()
	m.report = report
	m.mu.Unlock()

	m.logger.Info("plugin scan complete",
		"source", m.source.String(),
		"running", len(report.Running),
		"loaded", len(report.Loaded),
		"skipped", len(report.Skipped),
		"failed", len(report.Failures))
	return report, nil
}

// LastReport returns the report of the most recent Scan.
func (m *Manager) LastReport() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.report.clone()
}

// Get describes one plugin.
func (m *Manager) Get(name string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[name]
	if !ok {
		return Info{}, ErrNotFound(name)
	}
	return e.info(), nil
}

// List describes every known plugin in registration order.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.entries[name].info())
	}
	return out
}

// Start initializes a plugin that is loaded but not running. Failed and
// stopped plugins are loaded afresh first. Starting a running plugin is a
// no-op.
func (m *Manager) Start(ctx context.Context, name string) error {
	m.admin.Lock()
	defer m.admin.Unlock()

	e, ok := m.lookup(name)
	if !ok {
		return ErrNotFound(name)
	}

	switch m.state(e) {
	case StateRunning:
		return nil
	case StateLoaded:
		return m.init(ctx, e)
	default:
		if err := m.load(ctx, e); err != nil {
			return err
		}
		return m.init(ctx, e)
	}
}

// Stop stops one plugin. Stopping an inactive plugin is a no-op.
func (m *Manager) Stop(ctx context.Context, name string) error {
	m.admin.Lock()
	defer m.admin.Unlock()

	e, ok := m.lookup(name)
	if !ok {
		return ErrNotFound(name)
	}
	return m.stop(ctx, e)
}

// StopAll stops every loaded or running plugin in registration order,
// continuing through failures. Already stopped plugins are skipped, so a
// second call does nothing.
//
// Each plugin gets the full stop timeout even once ctx is done, so a slow
// plugin cannot starve the ones after it of their teardown.
func (m *Manager) StopAll(ctx context.Context) error {
	m.admin.Lock()
	defer m.admin.Unlock()

	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	var errList []error
	stopped := 0
	for _, name := range order {
		e, _ := m.lookup(name)
		if !m.state(e).active() {
			continue
		}
		stopped++
		if err := m.stop(context.WithoutCancel(ctx), e); err != nil {
			errList = append(errList, err)
		}
	}

	if stopped > 0 {
		m.logger.Info("plugins stopped", "count", stopped, "failed", len(errList))
	}
	return errors.Join(errList...)
}

// Reload stops a plugin if active, re-reads its manifest from the source
// and loads and initializes it again.
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.admin.Lock()
	defer m.admin.Unlock()

	e, ok := m.lookup(name)
	if !ok {
		return ErrNotFound(name)
	}

	stopErr := m.stop(ctx, e)
	m.refresh(ctx, e)

	if err := m.load(ctx, e); err != nil {
		return errors.Join(stopErr, err)
	}
	if err := m.init(ctx, e); err != nil {
		return errors.Join(stopErr, err)
	}
	m.logger.Info("plugin reloaded", "plugin", name)
	return stopErr
}

// ReportRuntimeError records a failure of an active plugin without
// unloading it.
func (m *Manager) ReportRuntimeError(name string, err error) error {
	if err == nil {
		return nil
	}

	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound(name)
	}
	wrapped := errRuntime(name, err)
	e.lastErr = wrapped
	e.lastCode = KindRuntimeError.Code
	e.runtimeErrors++
	m.mu.Unlock()

	m.recordError(name, KindRuntimeError.Code)
	errutil.LogError(m.logger, "plugin runtime error", wrapped)
	return nil
}

// load constructs a fresh instance and calls Load.
func (m *Manager) load(ctx context.Context, e *entry) error {
	name := e.manifest.Name

	ok, err := e.manifest.Satisfies(m.host)
	if err != nil {
		m.setState(e, StateFailed, KindImportError.Code, err)
		return err
	}
	if !ok {
		err := errImportf(name, "plugin %s requires host %s, running %s", name, e.manifest.Requires, m.host)
		m.setState(e, StateFailed, KindImportError.Code, err)
		return err
	}

	factory := e.factory
	if factory == nil {
		factory = m.runtimes[e.manifest.Type]
	}
	if factory == nil {
		err := errImportf(name, "no runtime for plugin type %q", e.manifest.Type)
		m.setState(e, StateFailed, KindImportError.Code, err)
		return err
	}

	inst := factory()
	if err := safely(func() error { return inst.Load(ctx, e.manifest, e.dir) }); err != nil {
		wrapped := errImport(name, err)
		m.setState(e, StateFailed, KindImportError.Code, wrapped)
		return wrapped
	}

	m.mu.Lock()
	e.instance = inst
	m.mu.Unlock()
	m.setState(e, StateLoaded, "", nil)
	m.logger.Debug("plugin loaded",
		"plugin", name,
		"type", e.manifest.Type,
		"version", e.manifest.Version)
	return nil
}

// init grants capabilities and calls Init. On failure the instance is
// stopped to release what Load acquired.
func (m *Manager) init(ctx context.Context, e *entry) error {
	name := e.manifest.Name
	if err := m.enforcer.Grant(name, e.manifest.Events); err != nil {
		wrapped := errInit(name, err)
		m.setState(e, StateFailed, KindInitError.Code, wrapped)
		return wrapped
	}

	m.mu.Lock()
	e.generation++
	v := &env{m: m, name: name, generation: e.generation, manifest: e.manifest}
	inst := e.instance
	m.mu.Unlock()

	if err := safely(func() error { return inst.Init(ctx, v) }); err != nil {
		wrapped := errInit(name, err)
		m.enforcer.Revoke(name)
		if stopErr := bounded(ctx, m.stopTimeout, inst.Stop); stopErr != nil {
			m.logger.Warn("stop after failed init", "plugin", name, "error", stopErr)
		}
		m.setState(e, StateFailed, KindInitError.Code, wrapped)
		return wrapped
	}

	m.setState(e, StateRunning, "", nil)
	m.logger.Info("plugin started", "plugin", name, "version", e.manifest.Version)
	return nil
}

func (m *Manager) stop(ctx context.Context, e *entry) error {
	if !m.state(e).active() {
		return nil
	}
	name := e.manifest.Name

	m.mu.RLock()
	inst := e.instance
	m.mu.RUnlock()

	err := bounded(ctx, m.stopTimeout, inst.Stop)
	m.enforcer.Revoke(name)
	if err != nil {
		wrapped := oops.Code(KindRuntimeError.Code).
			With("plugin", name).
			With("operation", "stop").
			Wrapf(err, "stop plugin %s", name)
		m.setState(e, StateStopped, KindRuntimeError.Code, wrapped)
		errutil.LogError(m.logger, "plugin stop failed", wrapped)
		return wrapped
	}
	m.setState(e, StateStopped, "", nil)
	return nil
}

// refresh picks up a changed manifest for e from the source.
func (m *Manager) refresh(ctx context.Context, e *entry) {
	candidates, err := m.source.Candidates(ctx)
	if err != nil {
		m.logger.Warn("reload keeps previous manifest", "plugin", e.manifest.Name, "error", err)
		return
	}
	for _, c := range candidates {
		if c.Err == nil && c.Manifest != nil && c.Manifest.Name == e.manifest.Name {
			m.mu.Lock()
			e.manifest, e.ref, e.dir, e.factory = c.Manifest, c.Ref, c.Dir, c.Factory
			m.mu.Unlock()
			return
		}
	}
}

// setState moves e to s. A non-nil err is recorded as e's last failure
// under code; the manager names the kind because oops reports the innermost
// code of a wrapped chain.
func (m *Manager) setState(e *entry, s State, code string, err error) {
	m.mu.Lock()
	e.state = s
	if err != nil {
		e.lastErr = err
		e.lastCode = code
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetPluginState(e.manifest.Name, string(s), stateNames())
	}
	if err != nil {
		m.recordError(e.manifest.Name, code)
	}
}

func (m *Manager) recordError(name, code string) {
	if m.metrics != nil {
		m.metrics.RecordPluginError(name, code)
	}
}

func (m *Manager) fail(r *Report, name, ref, code string, err error) {
	r.Failures = append(r.Failures, Failure{
		Plugin:  name,
		Ref:     ref,
		Code:    code,
		Message: err.Error(),
		Err:     err,
	})
	errutil.LogError(m.logger, "plugin failed", err)
}

func (m *Manager) knownFailure(e *entry) (Failure, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e.state != StateFailed || e.lastErr == nil {
		return Failure{}, false
	}
	return Failure{
		Plugin:  e.manifest.Name,
		Ref:     e.ref,
		Code:    e.lastCode,
		Message: e.lastErr.Error(),
		Err:     e.lastErr,
	}, true
}

func (m *Manager) ignored(name string) bool {
	for _, g := range m.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (m *Manager) lookup(name string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	return e, ok
}

func (m *Manager) insert(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.manifest.Name] = e
	m.order = append(m.order, e.manifest.Name)
}

func (m *Manager) state(e *entry) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.state
}

// current reports whether generation is the running incarnation of name.
func (m *Manager) current(name string, generation uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	return ok && e.state == StateRunning && e.generation == generation
}

func stateNames() []string {
	states := States()
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// bounded runs fn with a deadline of d, abandoning it when the deadline
// passes.
func bounded(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- safely(func() error { return fn(ctx) })
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return oops.With("timeout", d.String()).Wrapf(ctx.Err(), "plugin did not stop in time")
	}
}

func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
