package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps each stream with XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// subscriberBuffer is the per-subscription channel size.
const subscriberBuffer = 128

// SignalBus carries events over Pub/Sub and keeps a replayable copy in a
// Redis stream.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe uses PSUBSCRIBE for glob patterns and SUBSCRIBE otherwise. The
// subscription is confirmed before returning; the channel closes with ctx.
func (sb *SignalBus) Subscribe(ctx context.Context, pattern string) (<-chan []byte, error) {
	subscribe := sb.c.rdb.Subscribe
	if strings.ContainsAny(pattern, "*?[") {
		subscribe = sb.c.rdb.PSubscribe
	}
	pubsub := subscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", pattern, err)
	}

	in := pubsub.Channel(redis.WithChannelSize(subscriberBuffer))
	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			var msg *redis.Message
			var open bool
			select {
			case <-ctx.Done():
				return
			case msg, open = <-in:
			}
			if !open {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.c.key("stream", stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: []any{"payload", payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: append to stream %s: %w", stream, err)
	}
	return nil
}

// StreamRead pages the stream with XRANGE starting strictly after afterID.
// "" and "0" read from the oldest retained entry.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, afterID string, count int) ([]domain.StreamMessage, error) {
	start := "-"
	if afterID != "" && afterID != "0" {
		start = "(" + afterID
	}
	entries, err := sb.c.rdb.XRangeN(ctx, sb.c.key("stream", stream), start, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read stream %s after %q: %w", stream, afterID, err)
	}

	out := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		if p, ok := e.Values["payload"].(string); ok {
			out = append(out, domain.StreamMessage{ID: e.ID, Payload: []byte(p)})
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
