package domain

import (
	"context"
	"time"
)

// EventType names a market or user event.
type EventType string

const (
	EventPriceUpdate       EventType = "price_update"
	EventNewTrade          EventType = "new_trade"
	EventMarketExpired     EventType = "market_expired"
	EventMarketSettled     EventType = "market_settled"
	EventMarketHalted      EventType = "market_halted"
	EventOracleUnavailable EventType = "oracle_unavailable"
	EventBalanceUpdate     EventType = "balance_update"
	EventOrderExecuted     EventType = "order_executed"
	EventOrderRefunded     EventType = "order_refunded"
	EventOrderSettled      EventType = "order_settled"
)

// Event is emitted by the core. Exactly one of MarketID or UserID scopes the
// audience; UserID events are private to that user.
type Event struct {
	Type     EventType      `json:"type"`
	MarketID string         `json:"market_id,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	Payload  map[string]any `json:"payload"`
	At       time.Time      `json:"at"`
}

// EventPublisher delivers events at least once. Emit never fails the caller.
type EventPublisher interface {
	Emit(ctx context.Context, evt Event)
}
