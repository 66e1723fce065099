package service

import (
	"context"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/matching"
	"github.com/shopspring/decimal"
)

func (e *Exchange) announceExecution(ctx context.Context, out matching.Outcome, reserved decimal.Decimal) {
	now := e.now()
	payload := map[string]any{"order_id": out.Order.ID, "delta": reserved.Neg(), "reason": "reserve", "market_id": out.Order.MarketID}
	if bal, err := e.ledger.Balance(ctx, out.Order.UserID); err == nil {
		payload["balance"] = bal
	}
	e.events.Emit(ctx, domain.Event{Type: domain.EventBalanceUpdate, UserID: out.Order.UserID, Payload: payload, At: now})

	if len(out.Fills) == 0 {
		return
	}

	m := out.Market
	for _, f := range out.Fills {
		e.events.Emit(ctx, domain.Event{
			Type:     domain.EventNewTrade,
			MarketID: m.ID,
			Payload: map[string]any{
				"fill_id": f.ID,
				"option":  string(f.Option),
				"amount":  f.Amount,
				"price":   f.Price,
				"house":   f.House,
			},
			At: now,
		})
	}
	e.events.Emit(ctx, domain.Event{
		Type:     domain.EventPriceUpdate,
		MarketID: m.ID,
		Payload: map[string]any{
			"yes_price":  m.YesPrice,
			"no_price":   m.NoPrice,
			"yes_shares": m.YesShares,
			"no_shares":  m.NoShares,
		},
		At: now,
	})

	for _, o := range append([]domain.Order{out.Order}, out.Counterparties...) {
		if o.ExecutedAmount == 0 {
			continue
		}
		e.events.Emit(ctx, domain.Event{
			Type:   domain.EventOrderExecuted,
			UserID: o.UserID,
			Payload: map[string]any{
				"order_id":      o.ID,
				"market_id":     o.MarketID,
				"status":        string(o.Status),
				"executed":      o.ExecutedAmount,
				"remaining":     o.Remaining(),
				"execute_price": o.ExecutePrice,
			},
			At: now,
		})
	}

	if out.Expired {
		e.emitExpired(ctx, m)
	}
}

func (e *Exchange) emitExpired(ctx context.Context, m domain.Market) {
	e.events.Emit(ctx, domain.Event{
		Type:     domain.EventMarketExpired,
		MarketID: m.ID,
		Payload: map[string]any{
			"trigger":   string(m.Trigger),
			"yes_price": m.YesPrice,
			"threshold": m.Threshold,
		},
		At: e.now(),
	})
}
