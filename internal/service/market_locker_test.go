package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyLocks struct {
	mu       sync.Mutex
	held     int
	acquired []string
	released int
}

func (f *flakyLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held > 0 {
		f.held--
		return nil, domain.ErrLockHeld
	}
	f.acquired = append(f.acquired, key)
	return func() {
		f.mu.Lock()
		f.released++
		f.mu.Unlock()
	}, nil
}

func TestMarketLockerSerializesPerMarket(t *testing.T) {
	l := NewMarketLocker(nil, time.Second, 50*time.Millisecond)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "m1")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	other, err := l.Lock(ctx, "m2")
	require.NoError(t, err, "other markets are independent")
	other()

	unlock()
	unlock()
	again, err := l.Lock(ctx, "m1")
	require.NoError(t, err)
	again()

	l.mu.Lock()
	assert.Empty(t, l.slots)
	l.mu.Unlock()
}

func TestMarketLockerRetriesDistributedLock(t *testing.T) {
	dist := &flakyLocks{held: 2}
	l := NewMarketLocker(dist, time.Second, time.Second)

	unlock, err := l.Lock(context.Background(), "m1")
	require.NoError(t, err)
	unlock()

	assert.Equal(t, []string{"market:m1"}, dist.acquired)
	assert.Equal(t, 1, dist.released)
}

func TestMarketLockerGivesUpOnHeldDistributedLock(t *testing.T) {
	dist := &flakyLocks{held: 1 << 20}
	l := NewMarketLocker(dist, time.Second, 100*time.Millisecond)

	_, err := l.Lock(context.Background(), "m1")
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	next, err := NewMarketLocker(nil, time.Second, time.Second).Lock(context.Background(), "m1")
	require.NoError(t, err)
	next()
}
