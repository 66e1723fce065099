package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/cenkalti/backoff/v5"
)

// MarketLocker serializes work on one market. An in-process keyed mutex
// orders goroutines of this instance; an optional distributed lock orders
// instances sharing the same store.
type MarketLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot

	dist domain.LockManager
	ttl  time.Duration
	wait time.Duration
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewMarketLocker creates a MarketLocker. dist may be nil.
func NewMarketLocker(dist domain.LockManager, ttl, wait time.Duration) *MarketLocker {
	return &MarketLocker{
		slots: make(map[string]*lockSlot),
		dist:  dist,
		ttl:   ttl,
		wait:  wait,
	}
}

// Lock blocks until marketID is held or the wait budget is spent, in which
// case the error wraps domain.ErrConcurrencyConflict.
func (l *MarketLocker) Lock(ctx context.Context, marketID string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	releaseLocal, err := l.lockLocal(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("exchange: lock market %s: %w", marketID, domain.ErrConcurrencyConflict)
	}
	if l.dist == nil {
		return releaseLocal, nil
	}

	releaseDist, err := l.lockDistributed(ctx, marketID)
	if err != nil {
		releaseLocal()
		return nil, err
	}
	return func() {
		releaseDist()
		releaseLocal()
	}, nil
}

func (l *MarketLocker) lockLocal(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.drop(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}
}

func (l *MarketLocker) drop(key string, s *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *MarketLocker) lockDistributed(ctx context.Context, marketID string) (func(), error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond

	key := "market:" + marketID
	for {
		unlock, err := l.dist.Acquire(ctx, key, l.ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("exchange: lock market %s: %w", marketID, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("exchange: lock market %s held elsewhere: %w", marketID, domain.ErrConcurrencyConflict)
		case <-time.After(bo.NextBackOff()):
		}
	}
}
