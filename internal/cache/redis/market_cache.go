package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/redis/go-redis/v9"
)

// MarketCache implements domain.MarketCache as JSON strings with a short TTL.
//
// Key schema:
//
//	{prefix}market:{id} - JSON encoded domain.Market
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache whose entries live for ttl.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	return &MarketCache{c: c, ttl: ttl}
}

// Set stores a market snapshot.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}
	if err := mc.c.rdb.Set(ctx, mc.c.key("market", market.ID), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// Get returns a cached market or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.c.rdb.Get(ctx, mc.c.key("market", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}
	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return m, nil
}

// Invalidate drops a cached market.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	if err := mc.c.rdb.Del(ctx, mc.c.key("market", id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
