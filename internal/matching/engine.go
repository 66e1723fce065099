// Package matching executes orders against a market snapshot: a FIFO pairing
// pass against resting opposite liquidity, then a unilateral house fill
// bounded by the platform's worst-case profit.
package matching

import (
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/lifecycle"
	"github.com/alanyoungcy/opinionbook/internal/risk"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine is stateless; all state lives in the MarketBook passed to Match.
type Engine struct {
	now   func() time.Time
	newID func() string
}

// NewEngine creates an Engine. A nil clock defaults to time.Now.
func NewEngine(clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{now: clock, newID: uuid.NewString}
}

// Outcome is the result of matching one incoming order.
type Outcome struct {
	Order          domain.Order
	Market         domain.Market
	Fills          []domain.Fill
	Counterparties []domain.Order
	// Expired is set when the price update crossed the market threshold.
	Expired bool
}

// Filled returns the shares executed for the incoming order in this pass.
func (o Outcome) Filled() int64 {
	var n int64
	for _, f := range o.Fills {
		if f.OrderID == o.Order.ID {
			n += f.Amount
		}
	}
	return n
}

// Remaining returns the unexecuted shares of the incoming order.
func (o Outcome) Remaining() int64 {
	return o.Order.Remaining()
}

// ValidateOrder checks the order's own fields.
func ValidateOrder(o domain.Order) error {
	switch {
	case !o.Option.Valid():
		return fmt.Errorf("matching: option %q: %w", o.Option, domain.ErrInvalidOrder)
	case !o.Side.Valid():
		return fmt.Errorf("matching: side %q: %w", o.Side, domain.ErrInvalidOrder)
	case o.RequestedAmount <= 0:
		return fmt.Errorf("matching: amount %d must be positive: %w", o.RequestedAmount, domain.ErrInvalidOrder)
	case o.LimitPrice.LessThan(domain.MinPrice) || o.LimitPrice.GreaterThan(domain.MaxPrice):
		return fmt.Errorf("matching: limit price %s outside [%s, %s]: %w",
			o.LimitPrice, domain.MinPrice, domain.MaxPrice, domain.ErrInvalidOrder)
	case !o.LimitPrice.Equal(o.LimitPrice.Round(domain.PricePlaces)):
		return fmt.Errorf("matching: limit price %s has more than %d decimal places: %w",
			o.LimitPrice, domain.PricePlaces, domain.ErrInvalidOrder)
	}
	return nil
}

// CheckTradable rejects markets that cannot take fills at now.
func CheckTradable(m domain.Market, now time.Time) error {
	if m.Halted {
		return fmt.Errorf("matching: market %s: %w", m.ID, domain.ErrMarketHalted)
	}
	if m.Status != domain.MarketStatusActive || !now.Before(m.Expiry) {
		return fmt.Errorf("matching: market %s is %s: %w", m.ID, m.Status, domain.ErrMarketNotActive)
	}
	return nil
}

// Match executes order against book. The book is not modified; the returned
// Outcome carries the new market state and every changed order. Any error
// means nothing may be committed.
func (e *Engine) Match(book domain.MarketBook, order domain.Order) (Outcome, error) {
	now := e.now()
	if err := ValidateOrder(order); err != nil {
		return Outcome{}, err
	}
	if err := CheckTradable(book.Market, now); err != nil {
		return Outcome{}, err
	}
	if !risk.Solvent(book.Market.Exposure()) {
		return Outcome{}, fmt.Errorf("matching: market %s loaded with worst case %s: %w",
			book.Market.ID, risk.WorstCaseProfit(book.Market.Exposure(), risk.Delta{}), domain.ErrInvariantViolation)
	}

	out := Outcome{Order: order, Market: book.Market}
	opt, price := order.Exposure()

	for _, c := range candidates(book.Orders, order) {
		if out.Order.Remaining() == 0 {
			break
		}
		cOpt, cPrice := c.Exposure()
		q := min(out.Order.Remaining(), c.Remaining())

		after := risk.Apply(out.Market.Exposure(), risk.Delta{Option: opt, Amount: q, Price: price})
		if risk.WorstCaseProfit(after, risk.Delta{Option: cOpt, Amount: q, Price: cPrice}).IsNegative() {
			continue
		}

		e.fill(&out, &out.Order, c.ID, q, now)
		e.fill(&out, &c, out.Order.ID, q, now)
		out.Counterparties = append(out.Counterparties, c)
	}

	if rem := out.Order.Remaining(); rem > 0 {
		if q := risk.MaxSafeFill(out.Market.Exposure(), opt, price, rem); q > 0 {
			e.fill(&out, &out.Order, "", q, now)
		}
	}

	if len(out.Fills) == 0 {
		return out, nil
	}

	reprice(&out.Market)
	out.Market.UpdatedAt = now
	out.Expired = lifecycle.ObservePrice(&out.Market, now)

	if !risk.Solvent(out.Market.Exposure()) {
		return Outcome{}, fmt.Errorf("matching: market %s worst case %s after order %s: %w",
			out.Market.ID, risk.WorstCaseProfit(out.Market.Exposure(), risk.Delta{}), order.ID, domain.ErrInvariantViolation)
	}
	return out, nil
}

// candidates returns resting orders that pair with o at a combined price of
// at least the notional, oldest first.
func candidates(orders []domain.Order, o domain.Order) []domain.Order {
	opt, price := o.Exposure()
	var out []domain.Order
	for _, c := range orders {
		if c.ID == o.ID || !c.Status.Resting() || c.Remaining() <= 0 {
			continue
		}
		cOpt, cPrice := c.Exposure()
		if cOpt != opt.Opposite() || cPrice.Add(price).LessThan(domain.Notional) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// fill executes q shares of o at its own quoted price and books them on the
// market's running totals.
func (e *Engine) fill(out *Outcome, o *domain.Order, counter string, q int64, now time.Time) {
	opt, price := o.Exposure()
	value := price.Mul(decimal.NewFromInt(q))

	o.ApplyFill(q, now)
	m := &out.Market
	if opt == domain.OptionYes {
		m.YesShares += q
		m.YesValue = m.YesValue.Add(value)
	} else {
		m.NoShares += q
		m.NoValue = m.NoValue.Add(value)
	}

	out.Fills = append(out.Fills, domain.Fill{
		ID:             e.newID(),
		MarketID:       o.MarketID,
		OrderID:        o.ID,
		CounterOrderID: counter,
		UserID:         o.UserID,
		Option:         opt,
		Amount:         q,
		Price:          o.LimitPrice,
		Value:          value,
		House:          counter == "",
		CreatedAt:      now,
	})
}
