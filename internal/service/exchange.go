// Package service wires the matching engine, lifecycle and settlement
// processor to storage, the ledger and event delivery.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/lifecycle"
	"github.com/alanyoungcy/opinionbook/internal/matching"
	"github.com/alanyoungcy/opinionbook/internal/settlement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubmitRequest is a user's order as received from a transport.
type SubmitRequest struct {
	MarketID   string
	UserID     string
	Option     domain.Option
	Side       domain.OrderSide
	Amount     int64
	LimitPrice decimal.Decimal
}

// ExchangeConfig holds tuning for the Exchange.
type ExchangeConfig struct {
	MaxCommitRetries int
	SweepConcurrency int
}

// Exchange executes orders and drives markets through their lifecycle. Every
// mutation of a market happens under that market's lock.
type Exchange struct {
	store   domain.BookStore
	ledger  domain.Ledger
	engine  *matching.Engine
	settler *settlement.Processor
	locker  *MarketLocker
	events  domain.EventPublisher
	audit   domain.AuditStore
	cfg     ExchangeConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewExchange creates an Exchange. audit may be nil.
func NewExchange(
	store domain.BookStore,
	ledger domain.Ledger,
	engine *matching.Engine,
	settler *settlement.Processor,
	locker *MarketLocker,
	events domain.EventPublisher,
	audit domain.AuditStore,
	cfg ExchangeConfig,
	logger *slog.Logger,
) *Exchange {
	if cfg.MaxCommitRetries < 1 {
		cfg.MaxCommitRetries = 1
	}
	if cfg.SweepConcurrency < 1 {
		cfg.SweepConcurrency = 1
	}
	return &Exchange{
		store:   store,
		ledger:  ledger,
		engine:  engine,
		settler: settler,
		locker:  locker,
		events:  events,
		audit:   audit,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock overrides time.Now. It must use the same clock as the engine.
func (e *Exchange) WithClock(now func() time.Time) *Exchange {
	e.now = now
	return e
}

// SubmitOrder validates, reserves funds for and matches one order. It returns
// domain.ErrInvalidOrder, domain.ErrInsufficientFunds,
// domain.ErrMarketNotActive, domain.ErrMarketHalted,
// domain.ErrConcurrencyConflict or domain.ErrInvariantViolation (wrapped).
// No state changes on error.
func (e *Exchange) SubmitOrder(ctx context.Context, req SubmitRequest) (domain.OrderResult, error) {
	now := e.now()
	order := domain.Order{
		ID:              uuid.NewString(),
		UserID:          strings.TrimSpace(req.UserID),
		MarketID:        req.MarketID,
		Option:          domain.Option(strings.ToUpper(string(req.Option))),
		Side:            domain.OrderSide(strings.ToUpper(string(req.Side))),
		RequestedAmount: req.Amount,
		LimitPrice:      req.LimitPrice,
		Status:          domain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if order.Side == "" {
		order.Side = domain.OrderSideBuy
	}
	if order.UserID == "" {
		return domain.OrderResult{}, fmt.Errorf("exchange: missing user: %w", domain.ErrInvalidOrder)
	}
	if err := matching.ValidateOrder(order); err != nil {
		return domain.OrderResult{}, err
	}

	unlock, err := e.locker.Lock(ctx, order.MarketID)
	if err != nil {
		return domain.OrderResult{}, err
	}
	defer unlock()

	book, err := e.store.LoadBook(ctx, order.MarketID)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange: load market %s: %w", order.MarketID, err)
	}
	if err := e.checkTradable(ctx, book.Market); err != nil {
		return domain.OrderResult{}, err
	}

	reserved := order.CommittedValue(order.RequestedAmount)
	if err := e.ledger.Reserve(ctx, order.UserID, reserved, "reserve:"+order.ID); err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange: reserve %s for order %s: %w", reserved, order.ID, err)
	}

	out, err := e.matchAndCommit(ctx, book, order)
	if err != nil {
		if cerr := e.ledger.Credit(ctx, order.UserID, reserved, "release:"+order.ID); cerr != nil {
			e.logger.ErrorContext(ctx, "exchange: release reservation failed",
				slog.String("order_id", order.ID),
				slog.String("user_id", order.UserID),
				slog.String("amount", reserved.String()),
				slog.String("error", cerr.Error()),
			)
		}
		return domain.OrderResult{}, err
	}

	res := domain.OrderResult{
		OrderID:         out.Order.ID,
		Status:          out.Order.Status,
		FilledAmount:    out.Filled(),
		RemainingAmount: out.Remaining(),
		Fills:           out.Fills,
		MarketExpired:   out.Expired,
	}
	e.announceExecution(ctx, out, reserved)

	e.logger.InfoContext(ctx, "exchange: order submitted",
		slog.String("order_id", order.ID),
		slog.String("market_id", order.MarketID),
		slog.String("user_id", order.UserID),
		slog.String("option", string(order.Option)),
		slog.String("side", string(order.Side)),
		slog.Int64("amount", order.RequestedAmount),
		slog.String("limit", order.LimitPrice.String()),
		slog.Int64("filled", res.FilledAmount),
		slog.String("status", string(res.Status)),
	)

	if out.Expired {
		// Settle while still holding the lock so no sweep or submission sees
		// the market between expiry and payout.
		if _, err := e.settleLocked(ctx, order.MarketID); err != nil {
			e.logger.WarnContext(ctx, "exchange: settle after threshold expiry failed",
				slog.String("market_id", order.MarketID),
				slog.String("error", err.Error()),
			)
		} else {
			res.MarketSettled = true
		}
	}
	return res, nil
}

// checkTradable rejects submissions to markets that are not active. A market
// whose expiry passed before the sweep noticed is expired here.
func (e *Exchange) checkTradable(ctx context.Context, m domain.Market) error {
	now := e.now()
	if m.Status == domain.MarketStatusActive && !m.Halted && lifecycle.ObserveClock(&m, now) {
		expected := m.Version
		if err := e.store.Commit(ctx, domain.Mutation{ExpectedVersion: expected, Market: m}); err != nil {
			e.logger.WarnContext(ctx, "exchange: commit time expiry failed",
				slog.String("market_id", m.ID), slog.String("error", err.Error()))
		} else {
			e.emitExpired(ctx, m)
		}
	}
	return matching.CheckTradable(m, now)
}

// matchAndCommit runs the engine and commits its outcome, reloading and
// rematching when another writer committed first.
func (e *Exchange) matchAndCommit(ctx context.Context, book domain.MarketBook, order domain.Order) (matching.Outcome, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxCommitRetries; attempt++ {
		if attempt > 0 {
			var err error
			if book, err = e.store.LoadBook(ctx, order.MarketID); err != nil {
				return matching.Outcome{}, fmt.Errorf("exchange: reload market %s: %w", order.MarketID, err)
			}
		}

		out, err := e.engine.Match(book, order)
		if errors.Is(err, domain.ErrInvariantViolation) {
			e.halt(ctx, book.Market.ID, err)
			return matching.Outcome{}, err
		}
		if err != nil {
			return matching.Outcome{}, err
		}

		mut := domain.Mutation{
			ExpectedVersion: book.Market.Version,
			Market:          out.Market,
			Orders:          append(out.Counterparties, out.Order),
			Fills:           out.Fills,
		}
		err = e.store.Commit(ctx, mut)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return matching.Outcome{}, fmt.Errorf("exchange: commit order %s: %w", order.ID, err)
		}
		lastErr = err
		e.logger.DebugContext(ctx, "exchange: version conflict, retrying",
			slog.String("market_id", order.MarketID),
			slog.Int("attempt", attempt+1),
		)
	}
	return matching.Outcome{}, fmt.Errorf("exchange: order %s after %d attempts: %w",
		order.ID, e.cfg.MaxCommitRetries, errors.Join(domain.ErrConcurrencyConflict, lastErr))
}

// halt stops trading on a market whose solvency check failed. The market
// stays halted until an operator intervenes.
func (e *Exchange) halt(ctx context.Context, marketID string, cause error) {
	e.logger.ErrorContext(ctx, "exchange: halting market",
		slog.String("market_id", marketID),
		slog.String("error", cause.Error()),
	)

	for attempt := 0; attempt < e.cfg.MaxCommitRetries; attempt++ {
		book, err := e.store.LoadBook(ctx, marketID)
		if err != nil {
			e.logger.ErrorContext(ctx, "exchange: load market to halt failed",
				slog.String("market_id", marketID), slog.String("error", err.Error()))
			return
		}
		m := book.Market
		m.Halted = true
		m.HaltReason = cause.Error()
		m.UpdatedAt = e.now()
		err = e.store.Commit(ctx, domain.Mutation{ExpectedVersion: book.Market.Version, Market: m})
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			continue
		}
		if err != nil {
			e.logger.ErrorContext(ctx, "exchange: commit halt failed",
				slog.String("market_id", marketID), slog.String("error", err.Error()))
			return
		}
		break
	}

	if e.audit != nil {
		if err := e.audit.Log(ctx, "market_halted", map[string]any{
			"market_id": marketID,
			"reason":    cause.Error(),
		}); err != nil {
			e.logger.WarnContext(ctx, "exchange: audit log failed",
				slog.String("market_id", marketID), slog.String("error", err.Error()))
		}
	}
	e.events.Emit(ctx, domain.Event{
		Type:     domain.EventMarketHalted,
		MarketID: marketID,
		Payload:  map[string]any{"reason": cause.Error()},
		At:       e.now(),
	})
}

// SettleMarket settles an expired market under its lock. It is safe to call
// repeatedly.
func (e *Exchange) SettleMarket(ctx context.Context, marketID string) (domain.SettlementReport, error) {
	unlock, err := e.locker.Lock(ctx, marketID)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	defer unlock()
	return e.settleLocked(ctx, marketID)
}

func (e *Exchange) settleLocked(ctx context.Context, marketID string) (domain.SettlementReport, error) {
	book, err := e.store.LoadBook(ctx, marketID)
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("exchange: load market %s: %w", marketID, err)
	}
	if book.Market.Halted {
		return domain.SettlementReport{}, fmt.Errorf("exchange: settle market %s: %w", marketID, domain.ErrMarketHalted)
	}
	return e.settler.Settle(ctx, book)
}

// OrderBook returns the resting orders of a market.
func (e *Exchange) OrderBook(ctx context.Context, marketID string) (domain.OrderBook, error) {
	book, err := e.store.LoadBook(ctx, marketID)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("exchange: load market %s: %w", marketID, err)
	}
	ob := matching.BuildOrderBook(book)
	ob.ObservedAt = e.now()
	return ob, nil
}
