package domain

import (
	"context"
	"time"
)

// LockManager hands out leases keyed by name. Acquire returns ErrLockHeld
// while another holder's lease is live; unlock is safe to call after the
// lease expired.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of an append-only event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries market and user events. Channels are fire-and-forget;
// streams keep history for replay by ID.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe accepts glob patterns such as "market:*".
	Subscribe(ctx context.Context, pattern string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, afterID string, count int) ([]StreamMessage, error)
}

// MarketCache holds snapshots of settled markets for read paths. Matching
// never reads it.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter admits at most limit events per key in a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
