package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusExpired MarketStatus = "expired"
	MarketStatusSettled MarketStatus = "settled"
)

// ExpiryTrigger records why a market left the active state. It decides how
// the outcome is resolved at settlement.
type ExpiryTrigger string

const (
	ExpiryTriggerNone      ExpiryTrigger = ""
	ExpiryTriggerTime      ExpiryTrigger = "time"
	ExpiryTriggerThreshold ExpiryTrigger = "threshold"
)

var (
	// Notional is the per-share payout used by the exposure math.
	Notional = decimal.NewFromInt(10)
	// MinPrice and MaxPrice bound limit prices and market prices.
	MinPrice = decimal.RequireFromString("0.5")
	MaxPrice = decimal.RequireFromString("9.5")
	// PricePlaces is the decimal precision of prices and balances, matching
	// the NUMERIC(20, 4) columns.
	PricePlaces int32 = 4
	// OpeningPrice is the yes/no price of a freshly created market.
	OpeningPrice = decimal.NewFromInt(5)
)

// Market is a binary YES/NO proposition resolved against a numeric threshold.
type Market struct {
	ID        string
	Question  string
	Threshold decimal.Decimal
	Expiry    time.Time

	YesPrice decimal.Decimal
	NoPrice  decimal.Decimal

	// Running totals of executed exposure per option: share count and the
	// value collected for those shares.
	YesShares int64
	NoShares  int64
	YesValue  decimal.Decimal
	NoValue   decimal.Decimal

	Status     MarketStatus
	Trigger    ExpiryTrigger
	Result     Option
	Halted     bool
	HaltReason string

	// Version increments on every committed mutation.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiredAt *time.Time
	SettledAt *time.Time
}

// NewMarket returns an active market at the opening price.
func NewMarket(id, question string, threshold decimal.Decimal, expiry, now time.Time) Market {
	return Market{
		ID:        id,
		Question:  question,
		Threshold: threshold,
		Expiry:    expiry,
		YesPrice:  OpeningPrice,
		NoPrice:   Notional.Sub(OpeningPrice),
		YesValue:  decimal.Zero,
		NoValue:   decimal.Zero,
		Status:    MarketStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Tradable reports whether new fills may be committed on the market.
func (m Market) Tradable() bool {
	return m.Status == MarketStatusActive && !m.Halted
}

// Exposure returns the committed positions of the market.
func (m Market) Exposure() Exposure {
	return Exposure{
		YesShares: m.YesShares,
		NoShares:  m.NoShares,
		YesValue:  m.YesValue,
		NoValue:   m.NoValue,
	}
}

// Collected is the total value taken in across both options.
func (m Market) Collected() decimal.Decimal {
	return m.YesValue.Add(m.NoValue)
}

// Exposure is a snapshot of committed shares and collected value per option.
type Exposure struct {
	YesShares int64
	NoShares  int64
	YesValue  decimal.Decimal
	NoValue   decimal.Decimal
}

// Shares returns the committed share count backing opt.
func (e Exposure) Shares(opt Option) int64 {
	if opt == OptionYes {
		return e.YesShares
	}
	return e.NoShares
}
