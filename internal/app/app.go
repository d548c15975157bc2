// Package app provides the top-level application lifecycle management for the
// market simulator. It wires the optional backends (Redis, Postgres, S3),
// builds the simulation and starts the goroutines of the configured
// operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Valrob28/traderbrok/internal/config"
	"github.com/Valrob28/traderbrok/internal/notify"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	startedAt time.Time
	closers   []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now(),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("markets", len(a.cfg.Markets)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	var run func(context.Context, *Dependencies) error
	switch strings.ToLower(a.cfg.Mode) {
	case "simulate":
		run = a.SimulateMode
	case "serve":
		run = a.ServeMode
	case "full":
		run = a.FullMode
	case "replica":
		run = a.ReplicaMode
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.alert(ctx, deps, notify.EventStarted, "traderbrok started",
		fmt.Sprintf("mode %s, %d markets", a.cfg.Mode, len(a.cfg.Markets)))
	err = run(ctx, deps)

	msg := "clean shutdown"
	if err != nil && !errors.Is(err, context.Canceled) {
		msg = err.Error()
	}
	// ctx is already done here.
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.alert(stopCtx, deps, notify.EventStopped, "traderbrok stopped", msg)
	return err
}

// alert is best effort; sender failures are logged by the notifier.
func (a *App) alert(ctx context.Context, deps *Dependencies, ev notify.Event, title, message string) {
	if deps.Notifier == nil {
		return
	}
	_ = deps.Notifier.Notify(ctx, ev, title, message)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
