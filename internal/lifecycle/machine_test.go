package lifecycle

import (
	"testing"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func market(threshold string) domain.Market {
	return domain.NewMarket("m1", "Will it be hot?", decimal.RequireFromString(threshold), t0.Add(time.Hour), t0)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(domain.MarketStatusActive, domain.MarketStatusExpired))
	assert.True(t, CanTransition(domain.MarketStatusExpired, domain.MarketStatusSettled))
	assert.False(t, CanTransition(domain.MarketStatusActive, domain.MarketStatusSettled), "no skipping")
	assert.False(t, CanTransition(domain.MarketStatusExpired, domain.MarketStatusActive), "no going back")
	assert.False(t, CanTransition(domain.MarketStatusSettled, domain.MarketStatusExpired))
}

func TestSettleRequiresExpired(t *testing.T) {
	m := market("7")
	err := Settle(&m, domain.OptionYes, t0)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.MarketStatusActive, m.Status)

	require.NoError(t, Expire(&m, domain.ExpiryTriggerTime, t0))
	require.NoError(t, Settle(&m, domain.OptionNo, t0))
	assert.Equal(t, domain.MarketStatusSettled, m.Status)
	assert.Equal(t, domain.OptionNo, m.Result)

	require.ErrorIs(t, Settle(&m, domain.OptionYes, t0), domain.ErrInvalidTransition)
	assert.Equal(t, domain.OptionNo, m.Result)
}

func TestObservePrice(t *testing.T) {
	m := market("7")
	m.YesPrice = decimal.RequireFromString("6.99")
	assert.False(t, ObservePrice(&m, t0))
	assert.Equal(t, domain.MarketStatusActive, m.Status)

	m.YesPrice = decimal.NewFromInt(7)
	assert.True(t, ObservePrice(&m, t0))
	assert.Equal(t, domain.MarketStatusExpired, m.Status)
	assert.Equal(t, domain.ExpiryTriggerThreshold, m.Trigger)

	res, ok := Predetermined(m)
	assert.True(t, ok)
	assert.Equal(t, domain.OptionYes, res)

	assert.False(t, ObservePrice(&m, t0), "already expired")
}

func TestObserveClock(t *testing.T) {
	m := market("7")
	assert.False(t, ObserveClock(&m, t0.Add(59*time.Minute)))
	assert.True(t, ObserveClock(&m, t0.Add(time.Hour)))
	assert.Equal(t, domain.ExpiryTriggerTime, m.Trigger)

	_, ok := Predetermined(m)
	assert.False(t, ok)
}

func TestResultFor(t *testing.T) {
	th := decimal.NewFromInt(30)
	assert.Equal(t, domain.OptionYes, ResultFor(decimal.NewFromInt(30), th))
	assert.Equal(t, domain.OptionYes, ResultFor(decimal.RequireFromString("31.2"), th))
	assert.Equal(t, domain.OptionNo, ResultFor(decimal.RequireFromString("29.9"), th))
}

func TestAnalyze(t *testing.T) {
	m := market("8")
	m.YesPrice = decimal.NewFromInt(6)
	a := Analyze(m, t0.Add(15*time.Minute))

	assert.True(t, a.DistanceToThreshold.Equal(decimal.NewFromInt(2)))
	assert.True(t, a.PercentOfThreshold.Equal(decimal.NewFromInt(75)))
	assert.False(t, a.WillAutoSettle)
	assert.Equal(t, 45*time.Minute, a.TimeToExpiry)

	a = Analyze(m, t0.Add(2*time.Hour))
	assert.Zero(t, a.TimeToExpiry)
}
