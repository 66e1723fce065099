package matching

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	t      *testing.T
	engine *Engine
	book   domain.MarketBook
	seq    int
}

func newHarness(t *testing.T, threshold string) *harness {
	m := domain.NewMarket("m1", "Will Delhi reach 40C?", d(threshold), t0.Add(24*time.Hour), t0)
	return &harness{
		t:      t,
		engine: NewEngine(func() time.Time { return t0.Add(time.Minute) }),
		book:   domain.MarketBook{Market: m},
	}
}

func (h *harness) order(user string, opt domain.Option, side domain.OrderSide, amount int64, price string) domain.Order {
	h.seq++
	return domain.Order{
		ID:              fmt.Sprintf("o%02d", h.seq),
		UserID:          user,
		MarketID:        h.book.Market.ID,
		Option:          opt,
		Side:            side,
		RequestedAmount: amount,
		LimitPrice:      d(price),
		Status:          domain.OrderStatusPending,
		CreatedAt:       t0.Add(time.Duration(h.seq) * time.Second),
	}
}

// submit matches o and applies the outcome to the book the way a store
// commit would.
func (h *harness) submit(o domain.Order) Outcome {
	h.t.Helper()
	out, err := h.engine.Match(h.book, o)
	require.NoError(h.t, err)
	h.book.Market = out.Market
	for _, c := range out.Counterparties {
		h.replace(c)
	}
	h.book.Orders = append(h.book.Orders, out.Order)
	return out
}

func (h *harness) replace(o domain.Order) {
	for i := range h.book.Orders {
		if h.book.Orders[i].ID == o.ID {
			h.book.Orders[i] = o
			return
		}
	}
	h.t.Fatalf("order %s not in book", o.ID)
}

func (h *harness) get(id string) domain.Order {
	for _, o := range h.book.Orders {
		if o.ID == id {
			return o
		}
	}
	h.t.Fatalf("order %s not in book", id)
	return domain.Order{}
}

func TestThresholdCrossingExpiresInSameSubmission(t *testing.T) {
	h := newHarness(t, "7")
	resting := h.submit(h.order("bob", domain.OptionNo, domain.OrderSideBuy, 10, "2"))
	require.Empty(t, resting.Fills)
	require.True(t, h.book.Market.YesPrice.Equal(d("5")))

	out := h.submit(h.order("alice", domain.OptionYes, domain.OrderSideBuy, 10, "8"))

	assert.Equal(t, int64(10), out.Filled())
	assert.True(t, out.Market.YesPrice.Equal(d("8")), "yes price %s", out.Market.YesPrice)
	assert.True(t, out.Market.NoPrice.Equal(d("2")))
	assert.True(t, out.Expired)
	assert.Equal(t, domain.MarketStatusExpired, out.Market.Status)
	assert.Equal(t, domain.ExpiryTriggerThreshold, out.Market.Trigger)
}

func TestBreakevenPairLeavesRemainderResting(t *testing.T) {
	h := newHarness(t, "9.5")
	yes := h.submit(h.order("alice", domain.OptionYes, domain.OrderSideBuy, 4, "2"))
	require.Empty(t, yes.Fills, "no house fill on an empty market")

	out := h.submit(h.order("bob", domain.OptionNo, domain.OrderSideBuy, 1, "8"))

	require.Len(t, out.Fills, 2)
	for _, f := range out.Fills {
		assert.Equal(t, int64(1), f.Amount)
		assert.False(t, f.House)
	}
	assert.Equal(t, domain.OrderStatusExecuted, out.Order.Status)

	resting := h.get(yes.Order.ID)
	assert.Equal(t, int64(1), resting.ExecutedAmount)
	assert.Equal(t, int64(3), resting.Remaining())
	assert.Equal(t, domain.OrderStatusPartiallyExecuted, resting.Status)
	assert.True(t, risk.WorstCaseProfit(h.book.Market.Exposure(), risk.Delta{}).IsZero())
}

func TestProfitablePairExecutesBothAtQuotedPrices(t *testing.T) {
	h := newHarness(t, "9.5")
	yes := h.submit(h.order("alice", domain.OptionYes, domain.OrderSideBuy, 5, "9"))
	out := h.submit(h.order("bob", domain.OptionNo, domain.OrderSideBuy, 5, "9"))

	assert.Equal(t, int64(5), out.Filled())
	assert.Equal(t, domain.OrderStatusExecuted, out.Order.Status)
	assert.Equal(t, domain.OrderStatusExecuted, h.get(yes.Order.ID).Status)
	assert.True(t, out.Order.ExecutePrice.Equal(d("9")))
	assert.True(t, h.get(yes.Order.ID).ExecutePrice.Equal(d("9")))

	profit := risk.WorstCaseProfit(out.Market.Exposure(), risk.Delta{})
	assert.True(t, profit.Equal(d("40")), "profit %s", profit)
}

func TestHouseFallbackRefusesUnsafeFill(t *testing.T) {
	h := newHarness(t, "9.5")
	h.submit(h.order("alice", domain.OptionYes, domain.OrderSideBuy, 5, "5"))
	h.submit(h.order("bob", domain.OptionNo, domain.OrderSideBuy, 5, "5"))
	require.True(t, risk.WorstCaseProfit(h.book.Market.Exposure(), risk.Delta{}).IsZero())

	out := h.submit(h.order("carol", domain.OptionYes, domain.OrderSideBuy, 3, "6"))

	assert.Empty(t, out.Fills)
	assert.Equal(t, domain.OrderStatusPending, out.Order.Status)
	assert.Equal(t, int64(3), out.Remaining())
}

func TestHouseFallbackUsesSurplus(t *testing.T) {
	h := newHarness(t, "9.5")
	h.submit(h.order("alice", domain.OptionYes, domain.OrderSideBuy, 5, "9"))
	h.submit(h.order("bob", domain.OptionNo, domain.OrderSideBuy, 5, "9"))

	// 90 collected, 50 owed on NO: 40 of slack at 4 per share.
	out := h.submit(h.order("carol", domain.OptionNo, domain.OrderSideBuy, 12, "6"))

	require.Len(t, out.Fills, 1)
	assert.True(t, out.Fills[0].House)
	assert.Equal(t, int64(10), out.Filled())
	assert.Equal(t, int64(2), out.Remaining())
	assert.Equal(t, domain.OrderStatusPartiallyExecuted, out.Order.Status)
	assert.True(t, risk.Solvent(out.Market.Exposure()))
}

func TestPairingIsFIFO(t *testing.T) {
	h := newHarness(t, "9.5")
	first := h.submit(h.order("alice", domain.OptionYes, domain.OrderSideBuy, 5, "4"))
	second := h.submit(h.order("bob", domain.OptionYes, domain.OrderSideBuy, 5, "4"))

	out := h.submit(h.order("carol", domain.OptionNo, domain.OrderSideBuy, 3, "6"))

	require.Len(t, out.Counterparties, 1)
	assert.Equal(t, first.Order.ID, out.Counterparties[0].ID)
	assert.Equal(t, int64(3), h.get(first.Order.ID).ExecutedAmount)
	assert.Equal(t, int64(0), h.get(second.Order.ID).ExecutedAmount)
}

func TestPairingSkipsOrdersBelowNotional(t *testing.T) {
	h := newHarness(t, "9.5")
	cheap := h.submit(h.order("alice", domain.OptionYes, domain.OrderSideBuy, 5, "3"))
	out := h.submit(h.order("bob", domain.OptionNo, domain.OrderSideBuy, 5, "6"))

	assert.Empty(t, out.Fills, "3 + 6 < 10 must not pair")
	assert.Equal(t, int64(0), h.get(cheap.Order.ID).ExecutedAmount)
}

func TestPairingSpansSeveralRestingOrders(t *testing.T) {
	h := newHarness(t, "9.5")
	a := h.submit(h.order("alice", domain.OptionNo, domain.OrderSideBuy, 2, "3"))
	b := h.submit(h.order("bob", domain.OptionNo, domain.OrderSideBuy, 2, "4"))

	out := h.submit(h.order("carol", domain.OptionYes, domain.OrderSideBuy, 3, "7"))

	assert.Equal(t, int64(3), out.Filled())
	assert.Equal(t, domain.OrderStatusExecuted, h.get(a.Order.ID).Status)
	assert.Equal(t, int64(1), h.get(b.Order.ID).ExecutedAmount)
	assert.Len(t, out.Counterparties, 2)
	assert.True(t, risk.Solvent(out.Market.Exposure()))
}

func TestSellBacksOppositeOptionAtComplement(t *testing.T) {
	h := newHarness(t, "9.5")
	yes := h.submit(h.order("alice", domain.OptionYes, domain.OrderSideBuy, 2, "6"))

	// Selling YES at 5 is backing NO at 5; 6 + 5 >= 10 pairs.
	out := h.submit(h.order("bob", domain.OptionYes, domain.OrderSideSell, 2, "5"))

	require.Len(t, out.Fills, 2)
	for _, f := range out.Fills {
		if f.OrderID == out.Order.ID {
			assert.Equal(t, domain.OptionNo, f.Option)
			assert.True(t, f.Value.Equal(d("10")))
		}
	}
	assert.Equal(t, domain.OrderStatusExecuted, h.get(yes.Order.ID).Status)
	assert.Equal(t, int64(2), out.Market.NoShares)
}

func TestMatchRejects(t *testing.T) {
	h := newHarness(t, "9.5")

	bad := h.order("alice", domain.OptionYes, domain.OrderSideBuy, 1, "9.6")
	_, err := h.engine.Match(h.book, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	bad = h.order("alice", domain.OptionYes, domain.OrderSideBuy, 3, "5.00005")
	_, err = h.engine.Match(h.book, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder, "prices are stored with four decimal places")
	assert.NoError(t, ValidateOrder(h.order("alice", domain.OptionYes, domain.OrderSideBuy, 3, "5.0001")))

	bad = h.order("alice", domain.OptionYes, domain.OrderSideBuy, 0, "5")
	_, err = h.engine.Match(h.book, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	bad = h.order("alice", "MAYBE", domain.OrderSideBuy, 1, "5")
	_, err = h.engine.Match(h.book, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	expired := h.book
	expired.Market.Status = domain.MarketStatusExpired
	_, err = h.engine.Match(expired, h.order("alice", domain.OptionYes, domain.OrderSideBuy, 1, "5"))
	assert.ErrorIs(t, err, domain.ErrMarketNotActive)

	late := h.book
	late.Market.Expiry = t0
	_, err = h.engine.Match(late, h.order("alice", domain.OptionYes, domain.OrderSideBuy, 1, "5"))
	assert.ErrorIs(t, err, domain.ErrMarketNotActive)

	halted := h.book
	halted.Market.Halted = true
	_, err = h.engine.Match(halted, h.order("alice", domain.OptionYes, domain.OrderSideBuy, 1, "5"))
	assert.ErrorIs(t, err, domain.ErrMarketHalted)
}

func TestMatchDetectsInsolventSnapshot(t *testing.T) {
	h := newHarness(t, "9.5")
	h.submit(h.order("alice", domain.OptionYes, domain.OrderSideBuy, 2, "5"))

	corrupt := h.book
	corrupt.Market.NoShares = 10
	corrupt.Market.NoValue = d("5")

	_, err := h.engine.Match(corrupt, h.order("bob", domain.OptionNo, domain.OrderSideBuy, 2, "5"))
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestRandomFlowKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	prices := []string{"0.5", "1", "2", "3.5", "5", "6.5", "8", "9", "9.5"}

	for run := 0; run < 50; run++ {
		h := newHarness(t, "100")
		for i := 0; i < 60; i++ {
			opt := domain.OptionYes
			if rng.Intn(2) == 0 {
				opt = domain.OptionNo
			}
			side := domain.OrderSideBuy
			if rng.Intn(4) == 0 {
				side = domain.OrderSideSell
			}
			o := h.order(fmt.Sprintf("u%d", rng.Intn(5)), opt, side, int64(rng.Intn(8)+1), prices[rng.Intn(len(prices))])
			out := h.submit(o)

			m := out.Market
			require.True(t, risk.Solvent(m.Exposure()), "run %d order %d", run, i)
			require.True(t, m.YesPrice.Add(m.NoPrice).Equal(domain.Notional), "prices %s/%s", m.YesPrice, m.NoPrice)
			require.False(t, m.YesPrice.LessThan(domain.MinPrice))
			require.False(t, m.YesPrice.GreaterThan(domain.MaxPrice))
			require.LessOrEqual(t, out.Order.ExecutedAmount, out.Order.RequestedAmount)
		}
	}
}

func TestBuildOrderBook(t *testing.T) {
	h := newHarness(t, "9.5")
	h.submit(h.order("alice", domain.OptionYes, domain.OrderSideBuy, 2, "3"))
	h.submit(h.order("bob", domain.OptionYes, domain.OrderSideBuy, 1, "4"))
	h.submit(h.order("carol", domain.OptionYes, domain.OrderSideSell, 3, "8"))
	h.submit(h.order("dave", domain.OptionYes, domain.OrderSideBuy, 1, "3"))

	ob := BuildOrderBook(h.book)

	require.Len(t, ob.YesOrders, 3)
	assert.Equal(t, "bob", ob.YesOrders[0].UserID)
	assert.Equal(t, "alice", ob.YesOrders[1].UserID)
	assert.Equal(t, "dave", ob.YesOrders[2].UserID)

	require.Len(t, ob.NoOrders, 1)
	assert.Equal(t, domain.OrderSideSell, ob.NoOrders[0].Side)
	assert.True(t, ob.NoOrders[0].Price.Equal(d("2")))
}
