// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package goplugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/internal/plugin"
	"github.com/leafkit/leaf/pkg/pluginsdk"
)

// mockClientProtocol implements hashiplug.ClientProtocol for testing.
type mockClientProtocol struct {
	handler     pluginsdk.Handler
	dispenseErr error
	rawDispense interface{}
}

func (m *mockClientProtocol) Close() error { return nil }
func (m *mockClientProtocol) Ping() error  { return nil }
func (m *mockClientProtocol) Dispense(string) (interface{}, error) {
	if m.dispenseErr != nil {
		return nil, m.dispenseErr
	}
	if m.rawDispense != nil {
		return m.rawDispense, nil
	}
	return m.handler, nil
}

// mockPluginClient implements PluginClient for testing.
type mockPluginClient struct {
	protocol  *mockClientProtocol
	clientErr error
	mu        sync.Mutex
	killed    bool
}

func (m *mockPluginClient) Client() (hashiplug.ClientProtocol, error) {
	if m.clientErr != nil {
		return nil, m.clientErr
	}
	return m.protocol, nil
}

func (m *mockPluginClient) Kill() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killed = true
}

func (m *mockPluginClient) wasKilled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed
}

type mockClientFactory struct {
	client   *mockPluginClient
	execPath string
}

func (f *mockClientFactory) NewClient(execPath string, _ *slog.Logger) PluginClient {
	f.execPath = execPath
	return f.client
}

// mockHandler stands in for the plugin process.
type mockHandler struct {
	events   []string
	initReq  pluginsdk.InitRequest
	got      []pluginsdk.Event
	initErr  error
	eventErr error
	stopErr  error
	block    bool
	stopped  int
}

func (h *mockHandler) Init(_ context.Context, req pluginsdk.InitRequest) (pluginsdk.InitResponse, error) {
	h.initReq = req
	return pluginsdk.InitResponse{Events: h.events}, h.initErr
}

func (h *mockHandler) HandleEvent(ctx context.Context, evt pluginsdk.Event) error {
	if h.block {
		<-ctx.Done()
		return ctx.Err()
	}
	h.got = append(h.got, evt)
	return h.eventErr
}

func (h *mockHandler) Stop(context.Context) error {
	h.stopped++
	return h.stopErr
}

type fakeEnv struct {
	config map[string]string
	hooks  map[string]event.Hook
	deny   string
}

func (e *fakeEnv) Name() string              { return "echo" }
func (e *fakeEnv) Logger() *slog.Logger      { return slog.Default() }
func (e *fakeEnv) Config() map[string]string { return e.config }
func (e *fakeEnv) ReportError(error)         {}
func (e *fakeEnv) Hook(id string, h event.Hook) error {
	if id == e.deny {
		return errors.New("capability denied")
	}
	if e.hooks == nil {
		e.hooks = map[string]event.Hook{}
	}
	e.hooks[id] = h
	return nil
}

func binaryDir(t *testing.T) (string, *plugin.Manifest) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo-plugin"), []byte("dummy"), 0o600))
	return dir, &plugin.Manifest{
		Name:         "echo",
		Version:      "1.0.0",
		Type:         plugin.TypeBinary,
		BinaryPlugin: &plugin.BinaryConfig{Executable: "echo-plugin"},
	}
}

func newMock(h *mockHandler) (*mockClientFactory, *mockPluginClient) {
	client := &mockPluginClient{protocol: &mockClientProtocol{handler: h}}
	return &mockClientFactory{client: client}, client
}

func TestPlugin_Lifecycle(t *testing.T) {
	ctx := context.Background()
	h := &mockHandler{events: []string{"leaf.exit"}}
	factory, client := newMock(h)
	dir, m := binaryDir(t)

	p := New(WithClientFactory(factory))
	require.NoError(t, p.Load(ctx, m, dir))
	assert.Equal(t, filepath.Join(dir, "echo-plugin"), factory.execPath)

	env := &fakeEnv{config: map[string]string{"prefix": ">"}}
	require.NoError(t, p.Init(ctx, env))
	assert.Equal(t, pluginsdk.InitRequest{Name: "echo", Config: map[string]string{"prefix": ">"}}, h.initReq)

	hook, ok := env.hooks["leaf.exit"]
	require.True(t, ok)
	require.NoError(t, hook(ctx, event.Args{Positional: []any{"signal"}, Keyword: map[string]any{"code": 0}}))
	require.Len(t, h.got, 1)
	assert.Equal(t, "leaf.exit", h.got[0].ID)
	assert.Equal(t, []any{"signal"}, h.got[0].Args)

	require.NoError(t, p.Stop(ctx))
	assert.True(t, client.wasKilled())
	assert.Equal(t, 1, h.stopped)

	require.NoError(t, p.Stop(ctx), "second stop is a no-op")
	assert.Equal(t, 1, h.stopped)
	require.NoError(t, hook(ctx, event.Args{}), "events after stop are dropped")
	assert.Len(t, h.got, 1)
}

func TestPlugin_LoadFailures(t *testing.T) {
	ctx := context.Background()
	dir, m := binaryDir(t)

	t.Run("not binary", func(t *testing.T) {
		err := New().Load(ctx, &plugin.Manifest{Name: "x", Type: plugin.TypeLua}, dir)
		assert.ErrorContains(t, err, "not a binary plugin")
	})

	t.Run("missing executable", func(t *testing.T) {
		missing := *m
		missing.BinaryPlugin = &plugin.BinaryConfig{Executable: "gone"}
		assert.Error(t, New().Load(ctx, &missing, dir))
	})

	t.Run("escaping executable", func(t *testing.T) {
		escaping := *m
		escaping.BinaryPlugin = &plugin.BinaryConfig{Executable: "../echo-plugin"}
		assert.Error(t, New().Load(ctx, &escaping, dir))
	})

	t.Run("connect error", func(t *testing.T) {
		factory, client := newMock(&mockHandler{})
		client.clientErr = errors.New("handshake failed")
		err := New(WithClientFactory(factory)).Load(ctx, m, dir)
		assert.ErrorContains(t, err, "failed to connect")
		assert.True(t, client.wasKilled())
	})

	t.Run("dispense error", func(t *testing.T) {
		factory, client := newMock(&mockHandler{})
		client.protocol.dispenseErr = errors.New("no such plugin")
		err := New(WithClientFactory(factory)).Load(ctx, m, dir)
		assert.ErrorContains(t, err, "failed to dispense")
		assert.True(t, client.wasKilled())
	})

	t.Run("wrong type", func(t *testing.T) {
		factory, client := newMock(&mockHandler{})
		client.protocol.rawDispense = "not a handler"
		err := New(WithClientFactory(factory)).Load(ctx, m, dir)
		assert.ErrorContains(t, err, "does not implement")
		assert.True(t, client.wasKilled())
	})

	t.Run("double load", func(t *testing.T) {
		factory, _ := newMock(&mockHandler{})
		p := New(WithClientFactory(factory))
		require.NoError(t, p.Load(ctx, m, dir))
		assert.ErrorContains(t, p.Load(ctx, m, dir), "already loaded")
	})
}

func TestPlugin_InitFailures(t *testing.T) {
	ctx := context.Background()
	dir, m := binaryDir(t)

	assert.Error(t, New().Init(ctx, &fakeEnv{}), "init before load")

	factory, _ := newMock(&mockHandler{initErr: errors.New("bad config")})
	p := New(WithClientFactory(factory))
	require.NoError(t, p.Load(ctx, m, dir))
	assert.ErrorContains(t, p.Init(ctx, &fakeEnv{}), "bad config")

	factory, _ = newMock(&mockHandler{events: []string{"leaf.exit", "leaf.secret"}})
	p = New(WithClientFactory(factory))
	require.NoError(t, p.Load(ctx, m, dir))
	assert.ErrorContains(t, p.Init(ctx, &fakeEnv{deny: "leaf.secret"}), "capability denied")
}

func TestPlugin_EventErrorsAndTimeout(t *testing.T) {
	ctx := context.Background()
	dir, m := binaryDir(t)

	h := &mockHandler{events: []string{"leaf.exit"}, eventErr: errors.New("handler broke")}
	factory, _ := newMock(h)
	p := New(WithClientFactory(factory), WithEventTimeout(20*time.Millisecond))
	require.NoError(t, p.Load(ctx, m, dir))
	env := &fakeEnv{}
	require.NoError(t, p.Init(ctx, env))

	assert.ErrorContains(t, env.hooks["leaf.exit"](ctx, event.Args{}), "handler broke")

	h.eventErr = nil
	h.block = true
	err := env.hooks["leaf.exit"](ctx, event.Args{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPlugin_StopErrorStillKills(t *testing.T) {
	ctx := context.Background()
	dir, m := binaryDir(t)
	factory, client := newMock(&mockHandler{stopErr: errors.New("flush failed")})
	p := New(WithClientFactory(factory))
	require.NoError(t, p.Load(ctx, m, dir))

	assert.ErrorContains(t, p.Stop(ctx), "flush failed")
	assert.True(t, client.wasKilled())
}

func TestFactory(t *testing.T) {
	f := Factory(WithEventTimeout(time.Second))
	a, b := f(), f()
	assert.NotSame(t, a, b)
	assert.Equal(t, time.Second, a.(*Plugin).eventTimeout)
}

func TestHclogAdapter(t *testing.T) {
	assert.NotNil(t, hclogAdapter(nil))
	assert.Equal(t, "plugin", hclogAdapter(slog.Default()).Name())
}
