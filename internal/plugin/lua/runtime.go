// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package lua

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/internal/plugin"
	"github.com/leafkit/leaf/internal/plugin/hostfunc"
)

// Lua globals a plugin script may define.
const (
	fnInit    = "init"
	fnStop    = "stop"
	fnOnEvent = "on_event"
)

// Plugin is one Lua plugin backed by a persistent sandboxed state.
//
// The script is run once at Load. At Init the host table `leaf` is
// installed and the script's init() is called; every hooked event is then
// delivered to on_event(event_id, args). stop() runs at Stop, after which the
// state is closed and every task the script scheduled is cancelled. Calls
// into the state are serialized.
type Plugin struct {
	factory *StateFactory
	host    *hostfunc.Functions
	mu      sync.Mutex
	L       *lua.LState
	name    string
	env     plugin.Env
}

var _ plugin.Plugin = (*Plugin)(nil)

// Option configures a Lua plugin.
type Option func(*Plugin)

// WithHostFunctions adds scheduling and key/value functions to the `leaf`
// table. Plugins sharing one Functions share its bookkeeping.
func WithHostFunctions(f *hostfunc.Functions) Option {
	return func(p *Plugin) { p.host = f }
}

// New returns an unloaded Lua plugin.
func New(opts ...Option) *Plugin {
	p := &Plugin{factory: NewStateFactory()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Factory is the plugin.Factory for TypeLua.
func Factory(opts ...Option) plugin.Factory {
	return func() plugin.Plugin { return New(opts...) }
}

// Load reads the entry script and runs its top level.
func (p *Plugin) Load(ctx context.Context, m *plugin.Manifest, dir string) error {
	if m.LuaPlugin == nil {
		return oops.In("lua").With("plugin", m.Name).Errorf("manifest has no lua-plugin section")
	}
	path, err := plugin.ResolvePath(dir, m.LuaPlugin.Entry)
	if err != nil {
		return oops.In("lua").With("plugin", m.Name).Wrap(err)
	}

	code, err := os.ReadFile(path) //nolint:gosec // confined to the plugin directory
	if err != nil {
		return oops.In("lua").With("plugin", m.Name).With("path", path).Hint("failed to read entry file").Wrap(err)
	}

	L, err := p.factory.NewState(ctx)
	if err != nil {
		return err
	}
	if err := p.protected(ctx, L, func() error { return L.DoString(string(code)) }); err != nil {
		L.Close()
		return oops.In("lua").With("plugin", m.Name).With("entry", m.LuaPlugin.Entry).Hint("script failed").Wrap(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.L = L
	p.name = m.Name
	return nil
}

// Init installs the host table and calls the script's init().
func (p *Plugin) Init(ctx context.Context, env plugin.Env) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.L == nil {
		return oops.In("lua").With("plugin", p.name).Errorf("plugin is not loaded")
	}
	p.env = env
	p.installHost()

	return p.callOptional(ctx, fnInit)
}

// Stop calls the script's stop() and closes the state.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.L == nil {
		return nil
	}
	if p.host != nil {
		p.host.Release(p.name)
	}
	var err error
	if p.env != nil {
		err = p.callOptional(ctx, fnStop)
	}
	p.L.Close()
	p.L = nil
	return err
}

// deliver returns the hook that forwards eventID to on_event.
func (p *Plugin) deliver(eventID string) event.Hook {
	return func(ctx context.Context, args event.Args) error {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.L == nil {
			return nil
		}
		fn := p.L.GetGlobal(fnOnEvent)
		if fn.Type() != lua.LTFunction {
			return nil
		}
		L := p.L
		return p.protected(ctx, L, func() error {
			return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LString(eventID), argsTable(L, args))
		})
	}
}

// invoke runs a function value the script handed to the host, such as a
// scheduled callback.
func (p *Plugin) invoke(ctx context.Context, fn *lua.LFunction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.L == nil {
		return nil
	}
	L := p.L
	err := p.protected(ctx, L, func() error {
		return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	})
	if err != nil {
		return oops.In("lua").With("plugin", p.name).Wrap(err)
	}
	return nil
}

func (p *Plugin) callOptional(ctx context.Context, name string) error {
	fn := p.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil
	}
	L := p.L
	err := p.protected(ctx, L, func() error {
		return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	})
	if err != nil {
		return oops.In("lua").With("plugin", p.name).With("function", name).Wrap(err)
	}
	return nil
}

// protected runs fn with L bound to ctx so a cancelled context aborts the
// script.
func (p *Plugin) protected(ctx context.Context, L *lua.LState, fn func() error) error {
	if ctx != nil {
		L.SetContext(ctx)
		defer L.RemoveContext()
	}
	return fn()
}

// installHost exposes the `leaf` table:
//
//	leaf.name                  plugin name
//	leaf.log(level, msg, ...)  log through the plugin logger
//	leaf.config(key)           manifest config value or nil
//	leaf.hook(event_id)        deliver event_id to on_event
//
// plus the hostfunc set when one is configured.
func (p *Plugin) installHost() {
	L := p.L
	host := L.NewTable()
	L.SetField(host, "name", lua.LString(p.name))
	L.SetField(host, "log", L.NewFunction(p.luaLog))
	L.SetField(host, "config", L.NewFunction(p.luaConfig))
	L.SetField(host, "hook", L.NewFunction(p.luaHook))
	if p.host != nil {
		p.host.Register(L, host, p.name, p.invoke)
	}
	L.SetGlobal("leaf", host)
}

func (p *Plugin) luaLog(L *lua.LState) int {
	level := parseLevel(L.CheckString(1))
	msg := L.CheckString(2)

	var attrs []any
	for i := 3; i+1 <= L.GetTop(); i += 2 {
		attrs = append(attrs, L.Get(i).String(), fromLua(L.Get(i+1)))
	}
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p.env.Logger().Log(ctx, level, msg, attrs...)
	return 0
}

func (p *Plugin) luaConfig(L *lua.LState) int {
	v, ok := p.env.Config()[L.CheckString(1)]
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

func (p *Plugin) luaHook(L *lua.LState) int {
	eventID := L.CheckString(1)
	if err := p.env.Hook(eventID, p.deliver(eventID)); err != nil {
		L.RaiseError("leaf.hook(%q): %s", eventID, err.Error())
	}
	return 0
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// argsTable converts notification arguments to a Lua table: positional
// values at 1..n, keyword values as fields.
func argsTable(L *lua.LState, args event.Args) *lua.LTable {
	t := L.NewTable()
	for _, v := range args.Positional {
		t.Append(toLua(L, v))
	}
	for k, v := range args.Keyword {
		L.SetField(t, k, toLua(L, v))
	}
	return t
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			L.SetField(t, k, toLua(L, item))
		}
		return t
	case fmt.Stringer:
		return lua.LString(val.String())
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	default:
		if v == lua.LNil {
			return nil
		}
		return v.String()
	}
}
