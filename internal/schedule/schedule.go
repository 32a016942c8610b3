// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package schedule runs deferred and periodic tasks.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/errs"
	"github.com/leafkit/leaf/internal/ids"
	"github.com/leafkit/leaf/pkg/errutil"
)

// Error codes for scheduler failures.
const (
	CodeInvalidSpec = "SCHEDULE_INVALID_SPEC"
	CodeStopped     = "SCHEDULER_STOPPED"
	CodeStopTimeout = "SCHEDULER_STOP_TIMEOUT"
)

// Kinds returns the scheduler error kinds. The config kind is registered by
// the config package.
func Kinds() []errs.Kind {
	return []errs.Kind{
		{Code: CodeInvalidSpec, Description: "periodic task spec could not be parsed"},
		{Code: CodeStopped, Description: "task was added after the scheduler stopped"},
		{Code: CodeStopTimeout, Description: "running tasks did not finish before the deadline"},
	}
}

// Task is a unit of scheduled work. The context is cancelled when the
// scheduler stops.
type Task func(ctx context.Context) error

// Kind distinguishes periodic from one-shot tasks.
type Kind string

// Task kinds.
const (
	KindPeriodic Kind = "periodic"
	KindDeferred Kind = "deferred"
)

// TaskInfo describes a scheduled task.
type TaskInfo struct {
	ID   ulid.ULID
	Name string
	Kind Kind
	Spec string
	Next time.Time
}

type task struct {
	id      ulid.ULID
	name    string
	kind    Kind
	spec    string
	fn      Task
	entryID cron.EntryID
	timer   *time.Timer
	due     time.Time
}

// Manager owns the cron runner and the pending deferred tasks.
type Manager struct {
	cron    *cron.Cron
	logger  *slog.Logger
	tasks   map[ulid.ULID]*task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	location *time.Location
	seconds  bool
}

// WithLogger sets the logger used to report task failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLocation sets the time zone periodic specs are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.location = loc }
}

// WithSeconds enables an optional leading seconds field in periodic specs.
func WithSeconds() Option {
	return func(o *options) { o.seconds = true }
}

// New creates a scheduler. Periodic tasks run only after Start; deferred
// tasks fire once their delay elapses.
func New(opts ...Option) *Manager {
	o := options{location: time.UTC}
	for _, opt := range opts {
		opt(&o)
	}

	cronOpts := []cron.Option{cron.WithLocation(o.location)}
	if o.seconds {
		cronOpts = append(cronOpts, cron.WithParser(cron.NewParser(
			cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
		)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cron:   cron.New(cronOpts...),
		logger: o.logger,
		tasks:  make(map[ulid.ULID]*task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every schedules fn on a cron spec (e.g. "*/5 * * * *" or "@hourly").
func (m *Manager) Every(name, spec string, fn Task) (ulid.ULID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ulid.ULID{}, errStopped(name)
	}

	t := &task{id: ids.New(), name: name, kind: KindPeriodic, spec: spec, fn: fn}
	entryID, err := m.cron.AddFunc(spec, func() {
		if m.scheduled(t.id) {
			m.run(t)
		}
	})
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeInvalidSpec).
			With("task", name).
			With("spec", spec).
			Wrapf(err, "invalid schedule for task %s", name)
	}
	t.entryID = entryID
	m.tasks[t.id] = t
	return t.id, nil
}

// After runs fn once after d.
func (m *Manager) After(name string, d time.Duration, fn Task) (ulid.ULID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ulid.ULID{}, errStopped(name)
	}

	t := &task{id: ids.New(), name: name, kind: KindDeferred, fn: fn, due: time.Now().Add(d)}
	t.timer = time.AfterFunc(d, func() { m.fire(t) })
	m.tasks[t.id] = t
	return t.id, nil
}

// Cancel removes a task. It reports whether the task was still scheduled;
// once Cancel returns true the task will not start. A task that already
// started runs to completion.
func (m *Manager) Cancel(id ulid.ULID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return false
	}
	delete(m.tasks, id)

	switch t.kind {
	case KindPeriodic:
		m.cron.Remove(t.entryID)
	case KindDeferred:
		t.timer.Stop()
	}
	return true
}

// Tasks lists scheduled tasks ordered by ID (creation order).
func (m *Manager) Tasks() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TaskInfo, 0, len(m.tasks))
	for _, t := range m.tasks {
		info := TaskInfo{ID: t.id, Name: t.name, Kind: t.kind, Spec: t.spec, Next: t.due}
		if t.kind == KindPeriodic {
			info.Next = m.cron.Entry(t.entryID).Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}

// Start begins running periodic tasks. Calling it again is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.stopped {
		return
	}
	m.started = true
	m.cron.Start()
}

// Stop cancels pending tasks, cancels the task context and waits for running
// tasks to return or ctx to expire. Calling it again is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	for id, t := range m.tasks {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	m.cancel()
	cronDone := m.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code(CodeStopTimeout).Wrapf(ctx.Err(), "scheduled tasks still running")
	}
}

func (m *Manager) fire(t *task) {
	m.mu.Lock()
	// Cancel may have won the lock after the timer expired.
	if _, ok := m.tasks[t.id]; m.stopped || !ok {
		m.mu.Unlock()
		return
	}
	delete(m.tasks, t.id)
	m.wg.Add(1)
	m.mu.Unlock()

	defer m.wg.Done()
	m.run(t)
}

func (m *Manager) scheduled(id ulid.ULID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[id]
	return ok && !m.stopped
}

func (m *Manager) run(t *task) {
	defer func() {
		if r := recover(); r != nil {
			errutil.LogError(m.log(), "scheduled task panicked",
				oops.With("task", t.name).With("task_id", t.id.String()).Errorf("panic: %v", r))
		}
	}()

	if err := t.fn(m.ctx); err != nil {
		errutil.LogError(m.log(), "scheduled task failed",
			oops.With("task", t.name).With("task_id", t.id.String()).Wrap(err))
	}
}

func (m *Manager) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}

func errStopped(name string) error {
	return oops.Code(CodeStopped).With("task", name).Errorf("scheduler is stopped")
}

// String implements fmt.Stringer for log output.
func (i TaskInfo) String() string {
	return fmt.Sprintf("%s(%s %s)", i.Name, i.Kind, i.ID)
}

// CodeInvalidConfig marks invalid scheduler settings.
const CodeInvalidConfig = "SCHEDULE_CONFIG_INVALID"

// Config holds scheduler settings.
type Config struct {
	// Timezone is an IANA zone name periodic specs are evaluated in.
	Timezone string `koanf:"timezone"`
	// Seconds enables the optional leading seconds field.
	Seconds bool `koanf:"seconds"`
}

// DefaultConfig evaluates specs in UTC.
func DefaultConfig() Config { return Config{Timezone: "UTC"} }

// Validate checks that the time zone exists.
func (c Config) Validate() error {
	_, err := c.location()
	return err
}

// Options converts the config to scheduler options.
func (c Config) Options() ([]Option, error) {
	loc, err := c.location()
	if err != nil {
		return nil, err
	}
	opts := []Option{WithLocation(loc)}
	if c.Seconds {
		opts = append(opts, WithSeconds())
	}
	return opts, nil
}

func (c Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, oops.Code(CodeInvalidConfig).With("field", "timezone").Wrap(err)
	}
	return loc, nil
}
