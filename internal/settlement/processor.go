// Package settlement resolves expired markets, pays winners and refunds the
// unexecuted part of every open order.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/lifecycle"
	"github.com/shopspring/decimal"
)

// Processor settles one market at a time. Callers must hold the market's
// serialization lock.
type Processor struct {
	store     domain.BookStore
	ledger    domain.Ledger
	oracle    domain.OutcomeOracle
	events    domain.EventPublisher
	audit     domain.AuditStore
	archive   domain.SettlementArchiver
	winPayout decimal.Decimal
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures optional Processor collaborators.
type Option func(*Processor)

// WithAudit records every settlement in the audit log.
func WithAudit(a domain.AuditStore) Option { return func(p *Processor) { p.audit = a } }

// WithArchive uploads every settlement report.
func WithArchive(a domain.SettlementArchiver) Option { return func(p *Processor) { p.archive = a } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(p *Processor) { p.now = now } }

// NewProcessor creates a Processor paying winPayout per winning share.
func NewProcessor(
	store domain.BookStore,
	ledger domain.Ledger,
	oracle domain.OutcomeOracle,
	events domain.EventPublisher,
	winPayout decimal.Decimal,
	logger *slog.Logger,
	opts ...Option,
) *Processor {
	p := &Processor{
		store:     store,
		ledger:    ledger,
		oracle:    oracle,
		events:    events,
		winPayout: winPayout,
		now:       time.Now,
		logger:    logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Settle resolves and settles the expired market in book. Calling it again on
// a settled market is a no-op. On oracle failure the market is left expired
// and the error wraps domain.ErrOracleUnavailable.
func (p *Processor) Settle(ctx context.Context, book domain.MarketBook) (domain.SettlementReport, error) {
	m := book.Market
	if m.Status == domain.MarketStatusSettled || m.Result != "" {
		return domain.SettlementReport{MarketID: m.ID, Result: m.Result, AlreadySettled: true}, nil
	}
	if m.Status != domain.MarketStatusExpired {
		return domain.SettlementReport{}, fmt.Errorf("settlement: market %s is %s: %w", m.ID, m.Status, domain.ErrInvalidTransition)
	}

	report := domain.SettlementReport{
		MarketID:  m.ID,
		Question:  m.Question,
		Trigger:   m.Trigger,
		Collected: m.Collected(),
		Payouts:   decimal.Zero,
		Refunds:   decimal.Zero,
	}

	result, observed, err := p.resolve(ctx, m)
	if err != nil {
		p.events.Emit(ctx, domain.Event{
			Type:     domain.EventOracleUnavailable,
			MarketID: m.ID,
			Payload:  map[string]any{"question": m.Question, "error": err.Error()},
			At:       p.now(),
		})
		return domain.SettlementReport{}, err
	}
	report.Result = result
	report.Observed = observed

	now := p.now()
	orders := make([]domain.Order, 0, len(book.Orders))
	for _, o := range book.Orders {
		if o.Status.Terminal() {
			continue
		}
		if o.ExecutedAmount > 0 && o.EffectiveOption() == result {
			amt := p.winPayout.Mul(decimal.NewFromInt(o.ExecutedAmount))
			report.Credits = append(report.Credits, domain.SettlementCredit{
				OrderID: o.ID, UserID: o.UserID, Kind: domain.CreditPayout, Amount: amt, Ref: "settle:" + o.ID,
			})
			report.Payouts = report.Payouts.Add(amt)
		}
		if rem := o.Remaining(); rem > 0 {
			amt := o.CommittedValue(rem)
			report.Credits = append(report.Credits, domain.SettlementCredit{
				OrderID: o.ID, UserID: o.UserID, Kind: domain.CreditRefund, Amount: amt, Ref: "refund:" + o.ID,
			})
			report.Refunds = report.Refunds.Add(amt)
		}

		if o.ExecutedAmount > 0 {
			o.Status = domain.OrderStatusSettled
		} else {
			o.Status = domain.OrderStatusCancelled
		}
		o.UpdatedAt = now
		orders = append(orders, o)
	}
	report.Margin = report.Collected.Sub(report.Payouts)

	for _, c := range report.Credits {
		if err := p.ledger.Credit(ctx, c.UserID, c.Amount, c.Ref); err != nil {
			return domain.SettlementReport{}, fmt.Errorf("settlement: credit %s: %w", c.Ref, err)
		}
	}

	expected := m.Version
	if err := lifecycle.Settle(&m, result, now); err != nil {
		return domain.SettlementReport{}, err
	}
	if err := p.store.Commit(ctx, domain.Mutation{ExpectedVersion: expected, Market: m, Orders: orders}); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("settlement: commit market %s: %w", m.ID, err)
	}
	report.Orders = orders
	report.SettledAt = now

	p.announce(ctx, report)
	p.logger.InfoContext(ctx, "settlement: market settled",
		slog.String("market_id", m.ID),
		slog.String("result", string(result)),
		slog.String("trigger", string(m.Trigger)),
		slog.String("payouts", report.Payouts.String()),
		slog.String("refunds", report.Refunds.String()),
		slog.String("margin", report.Margin.String()),
	)
	return report, nil
}

func (p *Processor) resolve(ctx context.Context, m domain.Market) (domain.Option, *decimal.Decimal, error) {
	if res, ok := lifecycle.Predetermined(m); ok {
		return res, nil, nil
	}
	if p.oracle == nil {
		return "", nil, fmt.Errorf("settlement: market %s: no oracle configured: %w", m.ID, domain.ErrOracleUnavailable)
	}
	v, err := p.oracle.Resolve(ctx, m.Threshold)
	if err != nil {
		return "", nil, fmt.Errorf("settlement: resolve market %s: %w: %w", m.ID, domain.ErrOracleUnavailable, err)
	}
	return lifecycle.ResultFor(v, m.Threshold), &v, nil
}

// announce emits balance and order events, then the market event, and
// records the report. Failures past the commit are logged, never returned.
func (p *Processor) announce(ctx context.Context, r domain.SettlementReport) {
	for _, c := range r.Credits {
		bal, err := p.ledger.Balance(ctx, c.UserID)
		payload := map[string]any{"order_id": c.OrderID, "delta": c.Amount, "reason": string(c.Kind), "market_id": r.MarketID}
		if err == nil {
			payload["balance"] = bal
		}
		p.events.Emit(ctx, domain.Event{Type: domain.EventBalanceUpdate, UserID: c.UserID, Payload: payload, At: r.SettledAt})
	}
	for _, o := range r.Orders {
		evt := domain.EventOrderSettled
		if o.Status == domain.OrderStatusCancelled {
			evt = domain.EventOrderRefunded
		}
		p.events.Emit(ctx, domain.Event{
			Type:   evt,
			UserID: o.UserID,
			Payload: map[string]any{
				"order_id":  o.ID,
				"market_id": r.MarketID,
				"result":    string(r.Result),
				"won":       o.ExecutedAmount > 0 && o.EffectiveOption() == r.Result,
				"executed":  o.ExecutedAmount,
				"refunded":  o.Remaining(),
			},
			At: r.SettledAt,
		})
	}
	p.events.Emit(ctx, domain.Event{
		Type:     domain.EventMarketSettled,
		MarketID: r.MarketID,
		Payload: map[string]any{
			"question": r.Question,
			"result":   string(r.Result),
			"trigger":  string(r.Trigger),
			"payouts":  r.Payouts,
			"refunds":  r.Refunds,
			"margin":   r.Margin,
		},
		At: r.SettledAt,
	})

	if p.audit != nil {
		if err := p.audit.Log(ctx, "market_settled", map[string]any{
			"market_id": r.MarketID,
			"result":    string(r.Result),
			"trigger":   string(r.Trigger),
			"collected": r.Collected.String(),
			"payouts":   r.Payouts.String(),
			"refunds":   r.Refunds.String(),
			"credits":   len(r.Credits),
		}); err != nil {
			p.logger.WarnContext(ctx, "settlement: audit log failed",
				slog.String("market_id", r.MarketID), slog.String("error", err.Error()))
		}
	}
	if p.archive != nil {
		if err := p.archive.ArchiveSettlement(ctx, r); err != nil {
			p.logger.WarnContext(ctx, "settlement: archive report failed",
				slog.String("market_id", r.MarketID), slog.String("error", err.Error()))
		}
	}
}
