// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package hostfunc provides host functions to Lua plugins.
//
// Host functions expose the process scheduler and a per-plugin key/value
// namespace. Each plugin only ever sees its own namespace and its own
// tasks, and every task a plugin scheduled is cancelled when it stops.
package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/leafkit/leaf/internal/ids"
	"github.com/leafkit/leaf/internal/schedule"
	"github.com/leafkit/leaf/pkg/errutil"
)

// MaxTasksPerPlugin bounds the tasks one plugin may have scheduled at once.
const MaxTasksPerPlugin = 64

// kvTimeout bounds a single key/value call when the state carries no
// deadline of its own.
const kvTimeout = 5 * time.Second

// KVStore provides namespaced key-value storage.
type KVStore interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
}

// Scheduler is the part of the task scheduler plugins may use.
type Scheduler interface {
	After(name string, d time.Duration, fn schedule.Task) (ulid.ULID, error)
	Every(name, spec string, fn schedule.Task) (ulid.ULID, error)
	Cancel(id ulid.ULID) bool
}

// Invoker calls fn inside the plugin's state, serialized with every other
// call into that state.
type Invoker func(ctx context.Context, fn *lua.LFunction) error

// Functions provides host functions to Lua plugins.
type Functions struct {
	sched  Scheduler
	kv     KVStore
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]map[ulid.ULID]struct{}
}

// Option configures Functions.
type Option func(*Functions)

// WithScheduler enables leaf.after, leaf.every and leaf.cancel.
func WithScheduler(s Scheduler) Option {
	return func(f *Functions) { f.sched = s }
}

// WithKVStore enables leaf.kv_get, leaf.kv_set and leaf.kv_delete.
func WithKVStore(kv KVStore) Option {
	return func(f *Functions) { f.kv = kv }
}

// WithLogger sets the logger internal failures are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(f *Functions) { f.logger = l }
}

// New creates host functions. Without a scheduler or store the matching
// functions return an "not available" error to the script.
func New(opts ...Option) *Functions {
	f := &Functions{tasks: make(map[string]map[ulid.ULID]struct{})}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register adds the host functions for pluginName to mod:
//
//	leaf.new_id()                       a fresh ULID string
//	leaf.after(seconds, fn [, name])    run fn once; returns task id or nil, err
//	leaf.every(spec, fn [, name])       run fn on a cron spec; returns task id or nil, err
//	leaf.cancel(id)                     true when the task was still scheduled
//	leaf.kv_get(key)                    value or nil, err
//	leaf.kv_set(key, value)             nil or err
//	leaf.kv_delete(key)                 nil or err
//
// Scheduled functions run through invoke.
func (f *Functions) Register(L *lua.LState, mod *lua.LTable, pluginName string, invoke Invoker) {
	L.SetField(mod, "new_id", L.NewFunction(newIDFn))
	L.SetField(mod, "after", L.NewFunction(f.afterFn(pluginName, invoke)))
	L.SetField(mod, "every", L.NewFunction(f.everyFn(pluginName, invoke)))
	L.SetField(mod, "cancel", L.NewFunction(f.cancelFn(pluginName)))
	L.SetField(mod, "kv_get", L.NewFunction(f.kvGetFn(pluginName)))
	L.SetField(mod, "kv_set", L.NewFunction(f.kvSetFn(pluginName)))
	L.SetField(mod, "kv_delete", L.NewFunction(f.kvDeleteFn(pluginName)))
}

// Pending returns how many tasks pluginName has scheduled.
func (f *Functions) Pending(pluginName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks[pluginName])
}

// Release cancels every task pluginName scheduled and returns how many
// were still pending.
func (f *Functions) Release(pluginName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var cancelled int
	for id := range f.tasks[pluginName] {
		if f.sched != nil && f.sched.Cancel(id) {
			cancelled++
		}
	}
	delete(f.tasks, pluginName)
	return cancelled
}

func newIDFn(L *lua.LState) int {
	L.Push(lua.LString(ids.New().String()))
	return 1
}

func (f *Functions) afterFn(pluginName string, invoke Invoker) lua.LGFunction {
	return func(L *lua.LState) int {
		seconds := float64(L.CheckNumber(1))
		fn := L.CheckFunction(2)
		label := L.OptString(3, "after")
		if seconds < 0 {
			L.ArgError(1, "delay must not be negative")
			return 0
		}
		delay := time.Duration(seconds * float64(time.Second))

		return f.schedule(L, pluginName, func(task schedule.Task) (ulid.ULID, error) {
			return f.sched.After(taskName(pluginName, label), delay, task)
		}, fn, invoke, true)
	}
}

func (f *Functions) everyFn(pluginName string, invoke Invoker) lua.LGFunction {
	return func(L *lua.LState) int {
		spec := L.CheckString(1)
		fn := L.CheckFunction(2)
		label := L.OptString(3, "every")

		return f.schedule(L, pluginName, func(task schedule.Task) (ulid.ULID, error) {
			return f.sched.Every(taskName(pluginName, label), spec, task)
		}, fn, invoke, false)
	}
}

// schedule registers a task and tracks it under pluginName. A one-shot
// task untracks itself before running.
func (f *Functions) schedule(
	L *lua.LState,
	pluginName string,
	add func(schedule.Task) (ulid.ULID, error),
	fn *lua.LFunction,
	invoke Invoker,
	once bool,
) int {
	if f.sched == nil {
		return pushErr(L, "scheduler not available")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.tasks[pluginName]) >= MaxTasksPerPlugin {
		return pushErr(L, fmt.Sprintf("too many scheduled tasks (max %d)", MaxTasksPerPlugin))
	}

	var id ulid.ULID
	task := func(ctx context.Context) error {
		if once {
			f.mu.Lock()
			delete(f.tasks[pluginName], id)
			f.mu.Unlock()
		}
		return invoke(ctx, fn)
	}
	id, err := add(task)
	if err != nil {
		return pushErr(L, err.Error())
	}
	if f.tasks[pluginName] == nil {
		f.tasks[pluginName] = make(map[ulid.ULID]struct{})
	}
	f.tasks[pluginName][id] = struct{}{}

	L.Push(lua.LString(id.String()))
	return 1
}

func (f *Functions) cancelFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		id, err := ulid.Parse(L.CheckString(1))
		if err != nil {
			L.Push(lua.LFalse)
			return 1
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		// Plugins can only cancel their own tasks.
		if _, ok := f.tasks[pluginName][id]; !ok || f.sched == nil {
			L.Push(lua.LFalse)
			return 1
		}
		delete(f.tasks[pluginName], id)
		L.Push(lua.LBool(f.sched.Cancel(id)))
		return 1
	}
}

func (f *Functions) kvGetFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)

		if f.kv == nil {
			L.Push(lua.LNil)
			L.Push(lua.LString("kv store not available"))
			return 2
		}

		ctx, cancel := f.kvContext(L)
		defer cancel()
		value, err := f.kv.Get(ctx, pluginName, key)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(f.sanitize(pluginName, "kv_get", key, err)))
			return 2
		}
		if value == nil {
			L.Push(lua.LNil)
			L.Push(lua.LNil)
			return 2
		}

		L.Push(lua.LString(string(value)))
		L.Push(lua.LNil)
		return 2
	}
}

func (f *Functions) kvSetFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		value := L.CheckString(2)

		if f.kv == nil {
			L.Push(lua.LString("kv store not available"))
			return 1
		}

		ctx, cancel := f.kvContext(L)
		defer cancel()
		if err := f.kv.Set(ctx, pluginName, key, []byte(value)); err != nil {
			L.Push(lua.LString(f.sanitize(pluginName, "kv_set", key, err)))
			return 1
		}
		return 0
	}
}

func (f *Functions) kvDeleteFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)

		if f.kv == nil {
			L.Push(lua.LString("kv store not available"))
			return 1
		}

		ctx, cancel := f.kvContext(L)
		defer cancel()
		if err := f.kv.Delete(ctx, pluginName, key); err != nil {
			L.Push(lua.LString(f.sanitize(pluginName, "kv_delete", key, err)))
			return 1
		}
		return 0
	}
}

func (f *Functions) kvContext(L *lua.LState) (context.Context, context.CancelFunc) {
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, kvTimeout)
}

// sanitize logs err for operators and returns a message safe to hand to
// the script. Timeouts keep their meaning; anything else is reduced to a
// reference the operator can find in the log.
func (f *Functions) sanitize(pluginName, op, key string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "operation timed out"
	}
	ref := ids.New().String()
	errutil.LogError(f.log(), "plugin host call failed",
		oops.With("error_id", ref).With("plugin", pluginName).With("operation", op).With("key", key).Wrap(err))
	return fmt.Sprintf("internal error (ref: %s)", ref)
}

func (f *Functions) log() *slog.Logger {
	if f.logger != nil {
		return f.logger
	}
	return slog.Default()
}

func taskName(pluginName, label string) string {
	return "plugin." + pluginName + ":" + label
}

func pushErr(L *lua.LState, msg string) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(msg))
	return 2
}
