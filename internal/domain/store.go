package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// BookStore persists markets, orders and fills with per-market optimistic
// concurrency.
type BookStore interface {
	CreateMarket(ctx context.Context, market Market) error
	GetMarket(ctx context.Context, id string) (Market, error)
	ListMarkets(ctx context.Context, statuses []MarketStatus, opts ListOpts) ([]Market, error)
	// LoadBook returns the market and all of its non-terminal orders.
	LoadBook(ctx context.Context, marketID string) (MarketBook, error)
	// Commit applies m atomically. It returns ErrConcurrencyConflict when the
	// stored version differs from m.ExpectedVersion.
	Commit(ctx context.Context, m Mutation) error
	ListUserOrders(ctx context.Context, userID, marketID string) ([]Order, error)
	ListFills(ctx context.Context, marketID string) ([]Fill, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
