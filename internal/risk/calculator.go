// Package risk computes the platform's worst-case profit for a market's
// committed positions and bounds unilateral fills by it.
package risk

import (
	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/shopspring/decimal"
)

// Delta is a hypothetical additional fill on one option.
type Delta struct {
	Option domain.Option
	Amount int64
	Price  decimal.Decimal
}

// Apply returns e with d added to the option it backs.
func Apply(e domain.Exposure, d Delta) domain.Exposure {
	if d.Amount == 0 {
		return e
	}
	value := d.Price.Mul(decimal.NewFromInt(d.Amount))
	switch d.Option {
	case domain.OptionYes:
		e.YesShares += d.Amount
		e.YesValue = e.YesValue.Add(value)
	case domain.OptionNo:
		e.NoShares += d.Amount
		e.NoValue = e.NoValue.Add(value)
	}
	return e
}

// WorstCaseProfit is the platform's profit under the less favourable outcome
// once d is filled on top of committed.
func WorstCaseProfit(committed domain.Exposure, d Delta) decimal.Decimal {
	e := Apply(committed, d)
	collected := e.YesValue.Add(e.NoValue)
	ifYes := collected.Sub(domain.Notional.Mul(decimal.NewFromInt(e.YesShares)))
	ifNo := collected.Sub(domain.Notional.Mul(decimal.NewFromInt(e.NoShares)))
	return decimal.Min(ifYes, ifNo)
}

// Solvent reports whether e pays out no more than it collected under either
// outcome.
func Solvent(e domain.Exposure) bool {
	return !WorstCaseProfit(e, Delta{}).IsNegative()
}

// MaxSafeFill returns the largest whole number of shares, at most limit, that
// the platform can sell on opt at price while keeping the worst case at or
// above zero.
//
// Each such share adds price to collected and 10 to the payout of opt, so the
// slack on that outcome shrinks by 10-price per share. The opposite outcome
// only gains from the fill; if it is underwater at the largest candidate it
// is underwater at every smaller one.
func MaxSafeFill(committed domain.Exposure, opt domain.Option, price decimal.Decimal, limit int64) int64 {
	if limit <= 0 {
		return 0
	}
	if !WorstCaseProfit(committed, Delta{Option: opt, Amount: limit, Price: price}).IsNegative() {
		return limit
	}

	perShare := domain.Notional.Sub(price)
	if !perShare.IsPositive() {
		return 0
	}
	collected := committed.YesValue.Add(committed.NoValue)
	slack := collected.Sub(domain.Notional.Mul(decimal.NewFromInt(committed.Shares(opt))))
	if !slack.IsPositive() {
		return 0
	}

	q := slack.Div(perShare).Floor().IntPart()
	if q > limit {
		q = limit
	}
	if q <= 0 {
		return 0
	}
	if WorstCaseProfit(committed, Delta{Option: opt, Amount: q, Price: price}).IsNegative() {
		return 0
	}
	return q
}
