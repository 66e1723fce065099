package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOrderExposure(t *testing.T) {
	buy := Order{Option: OptionYes, Side: OrderSideBuy, LimitPrice: dec("6.5")}
	opt, price := buy.Exposure()
	assert.Equal(t, OptionYes, opt)
	assert.True(t, price.Equal(dec("6.5")))
	assert.True(t, buy.CommittedValue(4).Equal(dec("26")))

	sell := Order{Option: OptionYes, Side: OrderSideSell, LimitPrice: dec("6.5")}
	opt, price = sell.Exposure()
	assert.Equal(t, OptionNo, opt)
	assert.True(t, price.Equal(dec("3.5")))
	assert.Equal(t, OptionNo, sell.EffectiveOption())
	assert.True(t, sell.CommittedValue(4).Equal(dec("14")))
}

func TestOrderApplyFill(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o := Order{RequestedAmount: 10, LimitPrice: dec("4"), Status: OrderStatusPending}

	o.ApplyFill(3, now)
	assert.Equal(t, int64(3), o.ExecutedAmount)
	assert.Equal(t, int64(7), o.Remaining())
	assert.Equal(t, OrderStatusPartiallyExecuted, o.Status)
	assert.True(t, o.ExecutePrice.Equal(dec("4")))
	assert.Equal(t, now, o.UpdatedAt)

	o.ApplyFill(7, now)
	assert.Equal(t, OrderStatusExecuted, o.Status)
	assert.Zero(t, o.Remaining())
	assert.True(t, o.ExecutePrice.Equal(dec("4")))
}

func TestOrderStatusPredicates(t *testing.T) {
	assert.True(t, OrderStatusPending.Resting())
	assert.True(t, OrderStatusPartiallyExecuted.Resting())
	assert.False(t, OrderStatusExecuted.Resting())
	assert.True(t, OrderStatusSettled.Terminal())
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.False(t, OrderStatusExecuted.Terminal())
}

func TestNewMarketOpensAtFive(t *testing.T) {
	now := time.Now()
	m := NewMarket("m1", "Q", dec("7"), now.Add(time.Hour), now)
	assert.True(t, m.YesPrice.Equal(dec("5")))
	assert.True(t, m.NoPrice.Equal(dec("5")))
	assert.True(t, m.Tradable())
	assert.True(t, m.Collected().IsZero())

	m.Halted = true
	assert.False(t, m.Tradable())
}
