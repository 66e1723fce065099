package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// testClient connects to OPINIONBOOK_TEST_REDIS_ADDR under a fresh key
// prefix, or skips the test.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("OPINIONBOOK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OPINIONBOOK_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{
		Addr:     addr,
		PoolSize: 4,
		Prefix:   "opinionbook-test:" + uuid.NewString() + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKey(t *testing.T) {
	c := &Client{prefix: defaultPrefix}
	assert.Equal(t, "opinionbook:lock:market:m1", c.key("lock", "market:m1"))
	assert.Equal(t, "opinionbook:", c.key())
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager(testClient(t))

	unlock, err := lm.Acquire(ctx, "market:m1", time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "market:m1", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	other, err := lm.Acquire(ctx, "market:m2", time.Second)
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "market:m1", time.Second)
	require.NoError(t, err)
	again()

	_, err = lm.Acquire(ctx, "market:m1", 0)
	require.Error(t, err)
}

func TestLockLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager(testClient(t))

	stale, err := lm.Acquire(ctx, "market:m1", 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	fresh, err := lm.Acquire(ctx, "market:m1", time.Second)
	require.NoError(t, err)
	stale()

	_, err = lm.Acquire(ctx, "market:m1", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld, "an expired holder cannot release its successor")
	fresh()
}

func TestMarketCache(t *testing.T) {
	ctx := context.Background()
	mc := NewMarketCache(testClient(t), time.Minute)

	_, err := mc.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	m := domain.NewMarket("m1", "Q", decimal.NewFromInt(7), time.Now().Add(time.Hour).UTC(), time.Now().UTC())
	require.NoError(t, mc.Set(ctx, m))

	got, err := mc.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.True(t, m.Threshold.Equal(got.Threshold))

	require.NoError(t, mc.Invalidate(ctx, "m1"))
	_, err = mc.Get(ctx, "m1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(testClient(t))

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sb := NewSignalBus(testClient(t))
	channel := "market:" + uuid.NewString()

	sub, err := sb.Subscribe(ctx, "market:*")
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, channel, []byte(`{"type":"price_update"}`)))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"type":"price_update"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	require.NoError(t, sb.StreamAppend(ctx, "events", []byte("a")))
	require.NoError(t, sb.StreamAppend(ctx, "events", []byte("b")))
	msgs, err := sb.StreamRead(ctx, "events", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", string(msgs[1].Payload))

	rest, err := sb.StreamRead(ctx, "events", msgs[1].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)
}
