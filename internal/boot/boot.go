// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package boot brings the process up in dependency order and tears it down
// exactly once through the leaf.exit event.
//
// The kernel step (error registry, event bus, scheduler, exit event) runs at
// most once per Init. Every later step stores what it builds in the shared
// app.Modules and, where it owns a resource, hooks the resource's shutdown
// onto leaf.exit. Exit hooks run in registration order.
package boot

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/app"
	"github.com/leafkit/leaf/internal/config"
	"github.com/leafkit/leaf/internal/errs"
	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/internal/ids"
	"github.com/leafkit/leaf/internal/logging"
	"github.com/leafkit/leaf/internal/observability"
	"github.com/leafkit/leaf/internal/schedule"
	"github.com/leafkit/leaf/internal/server"
	"github.com/leafkit/leaf/internal/store"
	leaftls "github.com/leafkit/leaf/internal/tls"
	"github.com/leafkit/leaf/internal/weixin"
	"github.com/leafkit/leaf/internal/wxpay"
)

// ExitEvent is notified once when the process terminates.
const ExitEvent = "leaf.exit"

// ServiceName is attached to every log record.
const ServiceName = "leaf"

// Deps holds replaceable collaborators. Nil fields use the defaults.
type Deps struct {
	// OpenPool opens the database pool. Default: store.Open.
	OpenPool func(ctx context.Context, cfg store.Config, opts ...store.Option) (*store.Pool, error)
	// Migrate applies pending migrations. Default: store.Migrate.
	Migrate func(databaseURL string, logger *slog.Logger) error
	// Hostname names this host in the instance log. Default: os.Hostname.
	Hostname func() (string, error)
}

func (d *Deps) defaults() {
	if d.OpenPool == nil {
		d.OpenPool = store.Open
	}
	if d.Migrate == nil {
		d.Migrate = store.Migrate
	}
	if d.Hostname == nil {
		d.Hostname = os.Hostname
	}
}

// Init drives the boot sequence for one Modules registry.
type Init struct {
	modules  *app.Modules
	version  string
	deps     Deps
	logOpts  []logging.Option
	instance ulid.ULID

	mu                sync.Mutex
	kernelInitialized bool
	exit              *event.Event

	exitMu  sync.Mutex
	exited  bool
	exitErr error
}

// Option configures an Init.
type Option func(*Init)

// WithVersion sets the build version reported in logs, the instance log and
// plugin requires checks.
func WithVersion(v string) Option {
	return func(i *Init) { i.version = v }
}

// WithDeps replaces collaborators, mainly for tests.
func WithDeps(d Deps) Option {
	return func(i *Init) { i.deps = d }
}

// WithLoggingOptions passes options to every logging handle Logging builds.
func WithLoggingOptions(opts ...logging.Option) Option {
	return func(i *Init) { i.logOpts = append(i.logOpts, opts...) }
}

// New creates a boot sequence writing into modules. A nil modules gets a
// fresh registry.
func New(modules *app.Modules, opts ...Option) *Init {
	if modules == nil {
		modules = app.New()
	}
	i := &Init{modules: modules, version: "dev", instance: ids.New()}
	for _, opt := range opts {
		opt(i)
	}
	i.deps.defaults()
	return i
}

// Modules returns the registry this sequence writes into.
func (i *Init) Modules() *app.Modules { return i.modules }

// Instance identifies this process in the instance log.
func (i *Init) Instance() ulid.ULID { return i.instance }

// Version returns the build version.
func (i *Init) Version() string { return i.version }

func (i *Init) logger() *slog.Logger { return i.modules.Logger() }

// Kernel creates the error registry, event bus and scheduler, declares
// leaf.exit and the integration events, and hooks the scheduler's stop
// onto leaf.exit. busOpts are applied after the metrics recorder. Calls
// after the first successful one are no-ops.
func (i *Init) Kernel(cfg schedule.Config, busOpts ...event.Option) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.kernelInitialized {
		return nil
	}

	registry := errs.NewRegistry()
	if err := registerKinds(registry,
		errs.Kinds(), event.Kinds(), Kinds(), config.Kinds(), schedule.Kinds()); err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	bus := event.NewBus(append([]event.Option{event.WithRecorder(metrics)}, busOpts...)...)

	schedOpts, err := cfg.Options()
	if err != nil {
		return err
	}
	scheduler := schedule.New(schedOpts...)

	exit := event.New(ExitEvent,
		event.Args{Keyword: map[string]any{"reason": "normal"}},
		"the process is terminating; hooks release resources in registration order")
	for _, e := range []*event.Event{exit, weixin.NewMessageEvent(), wxpay.NewNotifyEvent()} {
		if err := bus.Add(e); err != nil {
			return err
		}
	}
	if err := exit.HookNamed("schedule.stop", func(ctx context.Context, _ event.Args) error {
		return scheduler.Stop(ctx)
	}); err != nil {
		return err
	}
	scheduler.Start()

	i.modules.SetErrors(registry)
	i.modules.SetMetrics(metrics)
	i.modules.SetEvents(bus)
	i.modules.SetSchedule(scheduler)
	i.exit = exit
	i.kernelInitialized = true

	i.logger().Debug("kernel initialized", "instance", i.instance.String(), "events", bus.Events())
	return nil
}

// KernelInitialized reports whether Kernel has completed.
func (i *Init) KernelInitialized() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.kernelInitialized
}

// Server creates the HTTP handle with the current logger and a fresh
// random secret, and hooks its shutdown onto leaf.exit.
func (i *Init) Server(cfg server.Config) (*server.Server, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.kernelInitialized {
		return nil, errKernelNotInitialized("server")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := i.modules.Errors().RegisterAll(server.Kinds()...); err != nil {
		return nil, err
	}

	srv, err := server.New(cfg, i.modules.Metrics())
	if err != nil {
		return nil, err
	}
	srv.SetLogger(i.logger())

	if err := i.exit.HookNamed("server.stop", func(ctx context.Context, _ event.Args) error {
		return srv.Stop(ctx)
	}); err != nil {
		return nil, err
	}
	i.modules.SetServer(srv)
	return srv, nil
}

// Logging replaces the logging handle and installs it as the slog default.
// When a server exists its logger is replaced too; without one the step
// still succeeds.
func (i *Init) Logging(cfg logging.Config) (*logging.Logging, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	l, err := logging.New(ServiceName, i.version, cfg, i.logOpts...)
	if err != nil {
		return nil, err
	}

	previous := i.modules.Logging()
	i.modules.SetLogging(l)
	slog.SetDefault(l.Logger())

	if srv := i.modules.Server(); srv != nil {
		srv.SetLogger(l.Logger())
	} else {
		l.Logger().Debug("no server yet, logger not attached")
	}

	if previous != nil {
		if err := previous.Close(); err != nil {
			l.Logger().Warn("closing previous log output failed", "error", err)
		}
	}
	return l, nil
}

// Database opens the connection pool, applies migrations when configured,
// records this instance and hooks the pool's shutdown onto leaf.exit.
func (i *Init) Database(ctx context.Context, cfg store.Config) (*store.Pool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.kernelInitialized {
		return nil, errKernelNotInitialized("database")
	}
	if err := i.modules.Errors().RegisterAll(store.Kinds()...); err != nil {
		return nil, err
	}
	logger := i.logger().With("component", "database")

	pool, err := i.deps.OpenPool(ctx, cfg, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := i.deps.Migrate(cfg.URL, logger); err != nil {
			_ = pool.Stop(ctx) //nolint:errcheck // migration error takes precedence
			return nil, err
		}
	}

	recorded := i.recordStart(ctx, pool, logger)

	if err := i.exit.HookNamed("database.stop", func(ctx context.Context, args event.Args) error {
		if recorded {
			if err := pool.RecordStop(ctx, i.instance, exitReason(args)); err != nil {
				logger.Warn("recording instance stop failed", "error", err)
			}
		}
		return pool.Stop(ctx)
	}); err != nil {
		_ = pool.Stop(ctx) //nolint:errcheck // hook error takes precedence
		return nil, err
	}

	if srv := i.modules.Server(); srv != nil {
		srv.AddReadinessCheck(pool.Ready)
	}
	i.modules.SetDatabase(pool)
	return pool, nil
}

func (i *Init) recordStart(ctx context.Context, pool *store.Pool, logger *slog.Logger) bool {
	host, err := i.deps.Hostname()
	if err != nil {
		host = "unknown"
	}
	if err := pool.RecordStart(ctx, i.instance, i.version, host); err != nil {
		logger.Warn("recording instance start failed", "error", err)
		return false
	}
	return true
}

// Weixin builds the messaging namespace and mounts /weixin.
func (i *Init) Weixin(cfg weixin.Config) (*weixin.Suite, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	srv, err := i.integration("weixin", weixin.Kinds())
	if err != nil {
		return nil, err
	}
	suite, err := weixin.New(cfg, i.modules.Events(), i.logger().With("component", "weixin"))
	if err != nil {
		return nil, err
	}
	if err := srv.RegisterRouteGroup(suite.Routes, "/weixin"); err != nil {
		return nil, err
	}
	i.modules.SetWeixin(suite)
	return suite, nil
}

// Wxpay builds the payment namespace (one client per payment method plus
// the signer) and mounts /wxpay.
func (i *Init) Wxpay(cfg wxpay.Config) (*wxpay.Suite, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	srv, err := i.integration("wxpay", append(wxpay.Kinds(), leaftls.Kinds()...))
	if err != nil {
		return nil, err
	}
	suite, err := wxpay.New(cfg, i.modules.Events(), i.logger().With("component", "wxpay"))
	if err != nil {
		return nil, err
	}
	if err := srv.RegisterRouteGroup(suite.Routes, "/wxpay"); err != nil {
		return nil, err
	}
	i.modules.SetWxpay(suite)
	return suite, nil
}

func (i *Init) integration(step string, kinds []errs.Kind) (*server.Server, error) {
	if !i.kernelInitialized {
		return nil, errKernelNotInitialized(step)
	}
	srv := i.modules.Server()
	if srv == nil {
		return nil, errServerNotInitialized(step)
	}
	if err := i.modules.Errors().RegisterAll(kinds...); err != nil {
		return nil, err
	}
	return srv, nil
}

// Run performs every step for cfg in order: kernel, server, logging,
// database (when configured), plugins, then weixin and wxpay (when
// configured).
func (i *Init) Run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	i.modules.SetConfig(&cfg)

	if err := i.Kernel(cfg.Schedule, cfg.Events.Options()...); err != nil {
		return oops.In("boot").With("step", "kernel").Wrap(err)
	}
	if _, err := i.Server(cfg.Server); err != nil {
		return oops.In("boot").With("step", "server").Wrap(err)
	}
	if _, err := i.Logging(cfg.Logging); err != nil {
		return oops.In("boot").With("step", "logging").Wrap(err)
	}
	if cfg.Database.Enabled() {
		if _, err := i.Database(ctx, cfg.Database); err != nil {
			return oops.In("boot").With("step", "database").Wrap(err)
		}
	}
	if _, err := i.Plugins(ctx, cfg.Plugins); err != nil {
		return oops.In("boot").With("step", "plugins").Wrap(err)
	}
	if cfg.Weixin.Enabled() {
		if _, err := i.Weixin(cfg.Weixin); err != nil {
			return oops.In("boot").With("step", "weixin").Wrap(err)
		}
	}
	if cfg.Wxpay.Enabled() {
		if _, err := i.Wxpay(cfg.Wxpay); err != nil {
			return oops.In("boot").With("step", "wxpay").Wrap(err)
		}
	}
	i.logger().Info("boot complete", "version", i.version, "instance", i.instance.String())
	return nil
}

// Exit notifies leaf.exit once with reason. Later calls return the first
// call's result without notifying again. Every hook runs even when earlier
// ones fail; failures are joined. The logging handle is closed last.
func (i *Init) Exit(ctx context.Context, reason string) error {
	i.mu.Lock()
	exit := i.exit
	i.mu.Unlock()
	if exit == nil {
		return errKernelNotInitialized("exit")
	}

	i.exitMu.Lock()
	defer i.exitMu.Unlock()
	if i.exited {
		return i.exitErr
	}
	i.exited = true

	i.logger().Info("shutting down", "reason", reason)
	i.exitErr = exit.Notify(ctx, event.Args{Keyword: map[string]any{"reason": reason}})
	if l := i.modules.Logging(); l != nil {
		_ = l.Close() //nolint:errcheck // nothing left to report it to
	}
	return i.exitErr
}

func exitReason(args event.Args) string {
	if v, ok := args.Kwarg("reason"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "normal"
}

func registerKinds(r *errs.Registry, groups ...[]errs.Kind) error {
	for _, kinds := range groups {
		if err := r.RegisterAll(kinds...); err != nil {
			return err
		}
	}
	return nil
}
