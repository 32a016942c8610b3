// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/leafkit/leaf/internal/boot"
	"github.com/leafkit/leaf/internal/config"
	"github.com/leafkit/leaf/pkg/errutil"
)

// shutdownTimeout bounds the leaf.exit hooks once termination starts.
const shutdownTimeout = 30 * time.Second

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// BootOptions are appended to the boot sequence options.
	BootOptions []boot.Option

	// Notify subscribes c to termination signals.
	// Default: signal.Notify for SIGINT and SIGTERM
	Notify func(c chan<- os.Signal)

	// Ready is called once the HTTP server is listening.
	Ready func(i *boot.Init)
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Boot Leaf and serve HTTP until terminated",
		Long: `Boot every configured module in order (kernel, server, logging,
database, plugins, weixin, wxpay), serve HTTP, and on SIGINT or SIGTERM
notify leaf.exit once so every module shuts down in registration order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}
}

// runServeWithDeps boots and serves with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.Notify == nil {
		deps.Notify = func(c chan<- os.Signal) {
			signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Subscribe before booting so a signal during a slow boot still ends
	// in leaf.exit.
	sigChan := make(chan os.Signal, 1)
	deps.Notify(sigChan)
	defer signal.Stop(sigChan)

	leaf := boot.New(nil, append([]boot.Option{boot.WithVersion(version)}, deps.BootOptions...)...)
	if reason, err := bootUntilInterrupted(ctx, leaf, cfg, sigChan); reason != "" || err != nil {
		if reason == "" {
			reason = "boot failed"
		}
		return shutdown(leaf, reason, err)
	}

	srv := leaf.Modules().Server()
	errCh, err := srv.Start()
	if err != nil {
		return shutdown(leaf, "listen failed", err)
	}
	cmd.Printf("Leaf %s listening on %s\n", version, srv.Addr())
	if deps.Ready != nil {
		deps.Ready(leaf)
	}

	var reason string
	var serveErr error
	select {
	case sig := <-sigChan:
		reason = "signal: " + sig.String()
	case err, ok := <-errCh:
		reason = "server stopped"
		if ok && err != nil {
			reason = "server error"
			serveErr = oops.With("addr", srv.Addr()).Wrap(err)
		}
	case <-ctx.Done():
		reason = "cancelled"
	}

	return shutdown(leaf, reason, serveErr)
}

// bootUntilInterrupted runs the boot sequence and cancels it on a signal or
// when ctx is done. It returns a non-empty reason when boot was interrupted;
// the cancellation itself is not reported as an error.
func bootUntilInterrupted(ctx context.Context, leaf *boot.Init, cfg config.Config, sigChan <-chan os.Signal) (string, error) {
	bootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- leaf.Run(bootCtx, cfg) }()

	var reason string
	select {
	case err := <-done:
		return "", err
	case sig := <-sigChan:
		reason = "signal: " + sig.String()
	case <-ctx.Done():
		reason = "cancelled"
	}

	cancel()
	// Exit must not race the steps still running.
	err := <-done
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return reason, err
}

// shutdown notifies leaf.exit with reason when the kernel is up and joins
// cause with any hook failures.
func shutdown(leaf *boot.Init, reason string, cause error) error {
	logger := leaf.Modules().Logger()
	if cause != nil {
		errutil.LogError(logger, "leaf terminating", cause)
	}
	if !leaf.KernelInitialized() {
		return cause
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := leaf.Exit(ctx, reason); err != nil {
		errutil.LogErrors(logger, "exit hook failed", err)
		return errors.Join(cause, err)
	}
	return cause
}
