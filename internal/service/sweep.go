package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/lifecycle"
	"golang.org/x/sync/errgroup"
)

// SweepReport counts what one sweep did.
type SweepReport struct {
	Scanned  int `json:"scanned"`
	Expired  int `json:"expired"`
	Settled  int `json:"settled"`
	Deferred int `json:"deferred"`
	Halted   int `json:"halted"`
	Failed   int `json:"failed"`
}

type sweepOutcome struct {
	expired, settled, deferred, halted bool
}

// Sweep expires active markets whose time has come and settles expired
// markets. Markets are processed in parallel, each under its own lock. A
// failure on one market never stops the others; oracle outages are counted as
// deferred and retried on the next sweep.
func (e *Exchange) Sweep(ctx context.Context) (SweepReport, error) {
	markets, err := e.store.ListMarkets(ctx,
		[]domain.MarketStatus{domain.MarketStatusActive, domain.MarketStatusExpired}, domain.ListOpts{})
	if err != nil {
		return SweepReport{}, fmt.Errorf("exchange: list markets for sweep: %w", err)
	}

	var (
		mu  sync.Mutex
		rep = SweepReport{Scanned: len(markets)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.SweepConcurrency)
	for _, m := range markets {
		if m.Status == domain.MarketStatusActive && e.now().Before(m.Expiry) {
			continue
		}
		g.Go(func() error {
			res, err := e.sweepMarket(gctx, m.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				e.logger.WarnContext(gctx, "exchange: sweep market failed",
					slog.String("market_id", m.ID), slog.String("error", err.Error()))
			}
			rep.Expired += count(res.expired)
			rep.Settled += count(res.settled)
			rep.Deferred += count(res.deferred)
			rep.Halted += count(res.halted)
			return nil
		})
	}
	_ = g.Wait()

	if rep.Expired+rep.Settled+rep.Deferred+rep.Failed > 0 {
		e.logger.InfoContext(ctx, "exchange: sweep done",
			slog.Int("scanned", rep.Scanned),
			slog.Int("expired", rep.Expired),
			slog.Int("settled", rep.Settled),
			slog.Int("deferred", rep.Deferred),
			slog.Int("halted", rep.Halted),
			slog.Int("failed", rep.Failed),
		)
	}
	return rep, ctx.Err()
}

// sweepMarket performs the due transitions of one market under its lock.
func (e *Exchange) sweepMarket(ctx context.Context, marketID string) (sweepOutcome, error) {
	var res sweepOutcome
	unlock, err := e.locker.Lock(ctx, marketID)
	if err != nil {
		return res, err
	}
	defer unlock()

	book, err := e.store.LoadBook(ctx, marketID)
	if err != nil {
		return res, fmt.Errorf("exchange: load market %s: %w", marketID, err)
	}
	m := book.Market
	if m.Halted {
		res.halted = true
		return res, nil
	}

	if lifecycle.ObserveClock(&m, e.now()) {
		if err := e.store.Commit(ctx, domain.Mutation{ExpectedVersion: book.Market.Version, Market: m}); err != nil {
			return res, fmt.Errorf("exchange: commit expiry of %s: %w", marketID, err)
		}
		e.emitExpired(ctx, m)
		res.expired = true
	}
	if m.Status != domain.MarketStatusExpired {
		return res, nil
	}

	_, err = e.settleLocked(ctx, marketID)
	switch {
	case errors.Is(err, domain.ErrOracleUnavailable):
		e.logger.WarnContext(ctx, "exchange: settlement deferred",
			slog.String("market_id", marketID), slog.String("error", err.Error()))
		res.deferred = true
		return res, nil
	case err != nil:
		return res, err
	}
	res.settled = true
	return res, nil
}

func count(b bool) int {
	if b {
		return 1
	}
	return 0
}
