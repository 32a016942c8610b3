// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package server provides the HTTP handle that integrations mount their
// route groups on.
package server

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/errs"
	"github.com/leafkit/leaf/internal/observability"
)

// SecretSize is the length in bytes of the server secret.
const SecretSize = 64

// Error codes for server failures.
const (
	CodeAlreadyRunning = "SERVER_ALREADY_RUNNING"
	CodeListenFailed   = "SERVER_LISTEN_FAILED"
	CodeRouteConflict  = "SERVER_ROUTE_CONFLICT"
	CodeInvalidPrefix  = "SERVER_INVALID_PREFIX"
	CodeInvalidConfig  = "SERVER_CONFIG_INVALID"
)

// Kinds returns the error kinds a running server can raise. The config
// kind is registered by the config package.
func Kinds() []errs.Kind {
	return []errs.Kind{
		{Code: CodeAlreadyRunning, Description: "server was started twice"},
		{Code: CodeListenFailed, Description: "server could not bind its listen address"},
		{Code: CodeRouteConflict, Description: "a route group is already mounted under the prefix"},
		{Code: CodeInvalidPrefix, Description: "route group prefix is malformed"},
	}
}

// readinessTimeout bounds each readiness check.
const readinessTimeout = 2 * time.Second

// RouteGroup is a set of routes mounted under a common prefix.
type RouteGroup interface {
	// Name identifies the group in logs and metrics.
	Name() string
	// Mount adds the group's routes to r, which is already scoped to the
	// group's prefix.
	Mount(r *mux.Router)
}

// Config configures the HTTP listener.
type Config struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DefaultConfig listens on localhost:8080.
func DefaultConfig() Config {
	return Config{
		Addr:              "127.0.0.1:8080",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Validate checks the listen address and timeouts.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return oops.Code(CodeInvalidConfig).With("field", "addr").With("addr", c.Addr).Wrap(err)
	}
	if c.ReadHeaderTimeout < 0 || c.ShutdownTimeout < 0 {
		return oops.Code(CodeInvalidConfig).With("field", "timeouts").Errorf("timeouts must not be negative")
	}
	return nil
}

// Server is the process HTTP handle.
type Server struct {
	cfg      Config
	router   *mux.Router
	metrics  *observability.Metrics
	secret   []byte
	logger   atomic.Pointer[slog.Logger]
	ready    atomic.Bool
	running  atomic.Bool
	mu       sync.Mutex
	groups   map[string]string
	checks   []func(context.Context) bool
	listener net.Listener
	http     *http.Server
}

// New creates a server with a fresh random secret. The health probes and,
// when metrics is non-nil, /metrics are mounted immediately.
func New(cfg Config, metrics *observability.Metrics) (*Server, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, oops.With("operation", "generate_secret").Wrap(err)
	}

	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		metrics: metrics,
		secret:  secret,
		groups:  make(map[string]string),
	}
	s.logger.Store(slog.Default())

	s.router.HandleFunc("/healthz/liveness", observability.LivenessHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz/readiness", observability.ReadinessHandler(s.isReady)).Methods(http.MethodGet)
	if metrics != nil {
		s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	return s, nil
}

// Secret returns a copy of the server secret.
func (s *Server) Secret() []byte {
	out := make([]byte, len(s.secret))
	copy(out, s.secret)
	return out
}

// SetLogger replaces the server's logger. A nil logger resets to the
// process default.
func (s *Server) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	s.logger.Store(l)
}

// Logger returns the server's current logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger.Load()
}

// SetReady flips the readiness probe.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// AddReadinessCheck adds a probe consulted by /healthz/readiness once the
// server is ready, such as a database ping.
func (s *Server) AddReadinessCheck(check func(ctx context.Context) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, check)
}

func (s *Server) isReady(ctx context.Context) bool {
	if !s.ready.Load() {
		return false
	}
	s.mu.Lock()
	checks := append([]func(context.Context) bool(nil), s.checks...)
	s.mu.Unlock()

	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
		ok := check(checkCtx)
		cancel()
		if !ok {
			return false
		}
	}
	return true
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RegisterRouteGroup mounts group under prefix. A prefix can hold only one
// group.
func (s *Server) RegisterRouteGroup(group RouteGroup, prefix string) error {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		return oops.Code(CodeInvalidPrefix).
			With("group", group.Name()).
			Errorf("route group %s needs a non-root prefix", group.Name())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.groups[prefix]; ok {
		return oops.Code(CodeRouteConflict).
			With("group", group.Name()).
			With("prefix", prefix).
			Errorf("prefix %s already used by %s", prefix, owner)
	}
	s.groups[prefix] = group.Name()

	sub := s.router.PathPrefix(prefix).Subrouter()
	sub.Use(s.instrument(group.Name()))
	group.Mount(sub)

	s.Logger().Debug("route group registered", "group", group.Name(), "prefix", prefix)
	return nil
}

// RouteGroups returns prefix → group name for every mounted group.
func (s *Server) RouteGroups() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.groups))
	for k, v := range s.groups {
		out[k] = v
	}
	return out
}

// Start begins serving on the configured address.
// It returns an error channel that receives any error from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code(CodeAlreadyRunning).Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code(CodeListenFailed).With("addr", s.cfg.Addr).Wrap(err)
	}

	readHeader := s.cfg.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 10 * time.Second
	}
	httpSrv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeader,
	}

	s.mu.Lock()
	s.listener = listener
	s.http = httpSrv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.Logger().Error("http server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.ready.Store(true)
	s.Logger().Info("http server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down. Calling it on a stopped server is
// a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.ready.Store(false)

	s.mu.Lock()
	httpSrv := s.http
	s.mu.Unlock()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
			s.running.Store(true)
			return oops.With("operation", "shutdown_http_server").Wrap(err)
		}
	}

	s.Logger().Info("http server stopped")
	return nil
}

// Addr returns the listening address, or "" if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(group string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			if s.metrics != nil {
				s.metrics.RecordRequest(group, rec.status)
			}
			s.Logger().Debug("request",
				"group", group,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start))
		})
	}
}
