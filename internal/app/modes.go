package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/opinionbook/internal/matching"
	"github.com/alanyoungcy/opinionbook/internal/notify"
	"github.com/alanyoungcy/opinionbook/internal/server"
	"github.com/alanyoungcy/opinionbook/internal/server/handler"
	"github.com/alanyoungcy/opinionbook/internal/server/ws"
	"github.com/alanyoungcy/opinionbook/internal/service"
	"github.com/alanyoungcy/opinionbook/internal/settlement"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// core holds the services every mode runs on.
type core struct {
	publisher *notify.Publisher
	exchange  *service.Exchange
	markets   *service.MarketService
	orders    *service.OrderService
}

func (a *App) buildCore(deps *Dependencies) *core {
	publisher := notify.NewPublisher(deps.Bus, deps.Notifier, a.logger)

	opts := []settlement.Option{settlement.WithAudit(deps.Audit)}
	if deps.Archiver != nil {
		opts = append(opts, settlement.WithArchive(deps.Archiver))
	}
	proc := settlement.NewProcessor(
		deps.Book, deps.Ledger, deps.Oracle, publisher,
		decimal.NewFromFloat(a.cfg.Engine.WinPayout), a.logger, opts...,
	)

	locker := service.NewMarketLocker(deps.Locks, a.cfg.Engine.LockTTL.Duration, a.cfg.Engine.LockWait.Duration)
	exchange := service.NewExchange(
		deps.Book, deps.Ledger, matching.NewEngine(time.Now), proc, locker, publisher, deps.Audit,
		service.ExchangeConfig{
			MaxCommitRetries: a.cfg.Engine.MaxCommitRetries,
			SweepConcurrency: a.cfg.Sweep.Concurrency,
		},
		a.logger,
	)

	return &core{
		publisher: publisher,
		exchange:  exchange,
		markets:   service.NewMarketService(deps.Book, deps.MarketCache, deps.Audit, a.logger),
		orders:    service.NewOrderService(deps.Book, deps.Ledger),
	}
}

// ServerMode serves the HTTP API and the websocket hub. Markets are expired
// on submission and on demand through POST /api/sweep; a separate sweeper
// process handles the clock.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)
	g.Go(func() error { return c.publisher.Run(ctx) })
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// SweeperMode periodically expires and settles markets without serving HTTP.
func (a *App) SweeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting sweeper mode",
		slog.Duration("interval", a.cfg.Sweep.Interval.Duration))

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)
	g.Go(func() error { return c.publisher.Run(ctx) })
	g.Go(func() error { return a.runSweeper(ctx, c.exchange, a.cfg.Sweep.Interval.Duration) })
	return g.Wait()
}

// FullMode runs the API and the sweeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)
	g.Go(func() error { return c.publisher.Run(ctx) })
	g.Go(func() error { return a.runSweeper(ctx, c.exchange, a.cfg.Sweep.Interval.Duration) })
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}
	return g.Wait()
}

type sweeper interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
}

// runSweeper sweeps once immediately and then on every tick until ctx is
// cancelled. A failed sweep is logged and retried on the next tick.
func (a *App) runSweeper(ctx context.Context, s sweeper, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			a.logger.WarnContext(ctx, "app: sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
}

// startHTTPServer adds the HTTP server, the websocket hub and the graceful
// shutdown watcher to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, a.logger),
		Markets: handler.NewMarketHandler(c.markets, c.exchange, a.logger),
		Orders:  handler.NewOrderHandler(c.exchange, c.orders, a.logger),
		Admin:   handler.NewAdminHandler(c.exchange, a.logger),
		Events:  handler.NewEventsHandler(deps.Bus, notify.EventStream, a.logger),
		Audit:   handler.NewAuditHandler(deps.Audit, a.logger),
	}
	if deps.Weather != nil {
		handlers.Weather = handler.NewWeatherHandler(deps.Weather, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminAPIKey: a.cfg.Server.AdminAPIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateBurst:   a.cfg.Server.RateBurst,
		Limiter:     deps.RateLimiter,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
