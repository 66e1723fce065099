package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

type fakeSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return f.err
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.titles...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublisherRoutesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewLocalBus(100)
	markets, err := bus.Subscribe(ctx, "market:*")
	require.NoError(t, err)
	alice, err := bus.Subscribe(ctx, "user:alice")
	require.NoError(t, err)

	p := NewPublisher(bus, nil, discard())
	p.Emit(ctx, domain.Event{Type: domain.EventPriceUpdate, MarketID: "m1", Payload: map[string]any{"yes_price": "6"}})
	p.Emit(ctx, domain.Event{Type: domain.EventBalanceUpdate, UserID: "alice", Payload: map[string]any{"balance": "90"}})

	var evt domain.Event
	require.NoError(t, json.Unmarshal(<-markets, &evt))
	assert.Equal(t, domain.EventPriceUpdate, evt.Type)
	assert.Equal(t, "m1", evt.MarketID)

	require.NoError(t, json.Unmarshal(<-alice, &evt))
	assert.Equal(t, domain.EventBalanceUpdate, evt.Type)

	select {
	case <-markets:
		t.Fatal("user event leaked to market channel")
	default:
	}

	msgs, err := bus.StreamRead(ctx, EventStream, "0", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestPublisherForwardsOperatorEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &fakeSender{}
	n := NewNotifier([]Sender{sender}, []string{"market_settled", "market_halted"}, discard())
	p := NewPublisher(NewLocalBus(10), n, discard())
	go func() { _ = p.Run(ctx) }()

	p.Emit(ctx, domain.Event{Type: domain.EventNewTrade, MarketID: "m1"})
	p.Emit(ctx, domain.Event{Type: domain.EventMarketSettled, MarketID: "m1", Payload: map[string]any{"result": "YES"}})
	p.Emit(ctx, domain.Event{Type: domain.EventMarketHalted, MarketID: "m2", Payload: map[string]any{"reason": "insolvent"}})

	require.Eventually(t, func() bool { return len(sender.sent()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Market settled", "Market halted"}, sender.sent())
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	ok, bad := &fakeSender{}, &fakeSender{err: boom}
	n := NewNotifier([]Sender{bad, ok}, nil, discard())

	err := n.Notify(context.Background(), "anything", "t", "m")
	require.ErrorIs(t, err, boom)
	assert.Len(t, ok.sent(), 1, "remaining senders still receive")
	assert.True(t, n.Wants("anything"), "empty filter allows all")
}

func TestDescribe(t *testing.T) {
	title, msg := Describe(domain.Event{
		Type:     domain.EventMarketSettled,
		MarketID: "m1",
		Payload:  map[string]any{"question": "Rain?", "result": "NO", "payouts": "0", "refunds": "5", "margin": "0"},
	})
	assert.Equal(t, "Market settled", title)
	assert.Contains(t, msg, "market: m1")
	assert.Contains(t, msg, "result: NO")

	title, msg = Describe(domain.Event{Type: domain.EventNewTrade, Payload: map[string]any{"b": 2, "a": 1}})
	assert.Equal(t, "new trade", title)
	assert.Equal(t, "a: 1\nb: 2", msg)
}

func TestLocalBusStreamTrimAndResume(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.StreamAppend(ctx, "s", []byte{byte('a' + i)}))
	}
	msgs, err := bus.StreamRead(ctx, "s", "", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "3", msgs[0].ID)

	msgs, err = bus.StreamRead(ctx, "s", "4", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("e"), msgs[0].Payload)
}
