// Package app assembles the exchange from configuration and runs one of its
// process modes: server, sweeper, or full (both in one process).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/opinionbook/internal/config"
)

// App runs one process mode and owns the resources opened while wiring it.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App. Nothing is opened until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

type modeFunc func(*App, context.Context, *Dependencies) error

var modes = map[string]modeFunc{
	"server":  (*App).ServerMode,
	"sweeper": (*App).SweeperMode,
	"full":    (*App).FullMode,
}

// Run wires dependencies for the configured mode and blocks until ctx is
// cancelled or a component fails. An unknown mode fails before anything is
// opened.
func (a *App) Run(ctx context.Context) error {
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.Store.Backend),
		slog.String("oracle", a.cfg.Oracle.Kind),
		slog.Float64("win_payout", a.cfg.Engine.WinPayout),
	)
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return run(a, ctx, deps)
}

// Close releases resources in reverse order. Calling it again is a no-op.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
