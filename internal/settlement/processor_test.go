package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedOracle struct {
	value decimal.Decimal
	err   error
	calls int
}

func (o *fixedOracle) Resolve(context.Context, decimal.Decimal) (decimal.Decimal, error) {
	o.calls++
	return o.value, o.err
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Emit(_ context.Context, evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	store    *memory.BookStore
	ledger   *memory.Ledger
	oracle   *fixedOracle
	events   *recorder
	audit    *memory.AuditStore
	proc     *Processor
	reserved decimal.Decimal
}

func order(id, user string, opt domain.Option, side domain.OrderSide, req, exec int64, price string) domain.Order {
	o := domain.Order{
		ID:              id,
		UserID:          user,
		MarketID:        "m1",
		Option:          opt,
		Side:            side,
		RequestedAmount: req,
		LimitPrice:      d(price),
		Status:          domain.OrderStatusPending,
		CreatedAt:       t0,
	}
	if exec > 0 {
		o.ApplyFill(exec, t0)
	}
	return o
}

// newFixture builds an expired market with two fully paired nines, a partly
// filled breakeven pair and one resting SELL.
func newFixture(t *testing.T, trigger domain.ExpiryTrigger) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:  memory.NewBookStore(),
		ledger: memory.NewLedger(decimal.Zero),
		oracle: &fixedOracle{value: d("31")},
		events: &recorder{},
		audit:  memory.NewAuditStore(),
	}
	f.proc = NewProcessor(f.store, f.ledger, f.oracle, f.events, decimal.NewFromInt(9),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithAudit(f.audit), WithClock(func() time.Time { return t0.Add(2 * time.Hour) }))

	m := domain.NewMarket("m1", "Will Delhi reach 30C?", d("30"), t0.Add(time.Hour), t0)
	m.Status = domain.MarketStatusExpired
	m.Trigger = trigger
	m.YesShares, m.YesValue = 6, d("47")
	m.NoShares, m.NoValue = 6, d("53")
	require.NoError(t, f.store.CreateMarket(ctx, m))

	orders := []domain.Order{
		order("a", "alice", domain.OptionYes, domain.OrderSideBuy, 5, 5, "9"),
		order("b", "bob", domain.OptionNo, domain.OrderSideBuy, 5, 5, "9"),
		order("c", "carol", domain.OptionYes, domain.OrderSideBuy, 4, 1, "2"),
		order("d", "dave", domain.OptionNo, domain.OrderSideBuy, 1, 1, "8"),
		order("e", "erin", domain.OptionYes, domain.OrderSideSell, 2, 0, "7"),
	}
	f.reserved = decimal.Zero
	for _, o := range orders {
		f.reserved = f.reserved.Add(o.CommittedValue(o.RequestedAmount))
	}
	require.NoError(t, f.store.Commit(ctx, domain.Mutation{ExpectedVersion: 1, Market: m, Orders: orders}))
	return f
}

func (f *fixture) book(t *testing.T) domain.MarketBook {
	t.Helper()
	b, err := f.store.LoadBook(context.Background(), "m1")
	require.NoError(t, err)
	return b
}

func (f *fixture) balance(t *testing.T, user string) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), user)
	require.NoError(t, err)
	return b
}

func TestSettleTimeExpiredUsesOracle(t *testing.T) {
	f := newFixture(t, domain.ExpiryTriggerTime)
	ctx := context.Background()

	rep, err := f.proc.Settle(ctx, f.book(t))
	require.NoError(t, err)

	assert.Equal(t, 1, f.oracle.calls)
	assert.Equal(t, domain.OptionYes, rep.Result)
	assert.True(t, f.balance(t, "alice").Equal(d("45")))
	assert.True(t, f.balance(t, "carol").Equal(d("15")), "9 won plus 3 x 2 refunded")
	assert.True(t, f.balance(t, "bob").IsZero())
	assert.True(t, f.balance(t, "dave").IsZero())
	assert.True(t, f.balance(t, "erin").Equal(d("6")), "SELL refund at 10 - 7")

	m, err := f.store.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusSettled, m.Status)
	assert.Equal(t, domain.OptionYes, m.Result)

	orders, err := f.store.ListUserOrders(ctx, "erin", "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, orders[0].Status)
	orders, err = f.store.ListUserOrders(ctx, "carol", "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSettled, orders[0].Status)

	assert.Equal(t, 1, f.events.count(domain.EventMarketSettled))
	assert.Equal(t, 1, f.events.count(domain.EventOrderRefunded))
	assert.Equal(t, 4, f.events.count(domain.EventOrderSettled))

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "market_settled", entries[0].Event)
}

func TestSettleConservesValue(t *testing.T) {
	for _, observed := range []string{"31", "12"} {
		t.Run(observed, func(t *testing.T) {
			f := newFixture(t, domain.ExpiryTriggerTime)
			f.oracle.value = d(observed)

			rep, err := f.proc.Settle(context.Background(), f.book(t))
			require.NoError(t, err)

			assert.True(t, rep.Collected.Equal(d("100")))
			total := rep.Payouts.Add(rep.Refunds).Add(rep.Margin)
			assert.True(t, total.Equal(f.reserved), "payouts %s refunds %s margin %s reserved %s",
				rep.Payouts, rep.Refunds, rep.Margin, f.reserved)
			assert.False(t, rep.Margin.IsNegative())
		})
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	f := newFixture(t, domain.ExpiryTriggerTime)
	ctx := context.Background()
	stale := f.book(t)

	_, err := f.proc.Settle(ctx, stale)
	require.NoError(t, err)
	before := f.balance(t, "alice")

	rep, err := f.proc.Settle(ctx, f.book(t))
	require.NoError(t, err)
	assert.True(t, rep.AlreadySettled)

	// A replay from a snapshot taken before the first run must not pay
	// again; its commit loses the version race.
	_, err = f.proc.Settle(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	assert.True(t, f.balance(t, "alice").Equal(before))
	assert.Equal(t, 1, f.events.count(domain.EventMarketSettled))
}

func TestSettleOracleUnavailableLeavesMarketExpired(t *testing.T) {
	f := newFixture(t, domain.ExpiryTriggerTime)
	f.oracle.err = errors.New("connection refused")
	ctx := context.Background()

	_, err := f.proc.Settle(ctx, f.book(t))
	require.ErrorIs(t, err, domain.ErrOracleUnavailable)

	m, err := f.store.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusExpired, m.Status)
	assert.Empty(t, m.Result)
	assert.True(t, f.balance(t, "alice").IsZero())
	assert.Equal(t, 1, f.events.count(domain.EventOracleUnavailable))
	assert.Zero(t, f.events.count(domain.EventMarketSettled))
}

func TestSettleThresholdTriggerSkipsOracle(t *testing.T) {
	f := newFixture(t, domain.ExpiryTriggerThreshold)
	f.oracle.value = d("0")

	rep, err := f.proc.Settle(context.Background(), f.book(t))
	require.NoError(t, err)
	assert.Equal(t, domain.OptionYes, rep.Result)
	assert.Zero(t, f.oracle.calls)
}

func TestSettleRejectsActiveMarket(t *testing.T) {
	f := newFixture(t, domain.ExpiryTriggerTime)
	book := f.book(t)
	book.Market.Status = domain.MarketStatusActive

	_, err := f.proc.Settle(context.Background(), book)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
