// Package app provides top-level lifecycle management for the connector
// daemon. It wires stores, caches, the venue integration, and the connector
// service, then runs the configured operating mode until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tradewell/connector/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the connector in the configured mode,
// and blocks until the context is cancelled. On return the caller should
// invoke Close to release resources.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting connector",
		slog.String("mode", a.cfg.Mode),
		slog.String("venue", a.cfg.Connector.Name),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "paper":
		return a.PaperMode(ctx, deps)
	case "live":
		return a.LiveMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
