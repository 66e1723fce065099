package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Option is the side of the binary proposition an order backs.
type Option string

const (
	OptionYes Option = "YES"
	OptionNo  Option = "NO"
)

// Opposite returns the other option.
func (o Option) Opposite() Option {
	if o == OptionYes {
		return OptionNo
	}
	return OptionYes
}

// Valid reports whether o is YES or NO.
func (o Option) Valid() bool {
	return o == OptionYes || o == OptionNo
}

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusPartiallyExecuted OrderStatus = "partially_executed"
	OrderStatusExecuted          OrderStatus = "executed"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusSettled           OrderStatus = "settled"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusSettled
}

// Resting reports whether the order can still be matched.
func (s OrderStatus) Resting() bool {
	return s == OrderStatusPending || s == OrderStatusPartiallyExecuted
}

// Order is one user's priced intent on a market together with its fill state.
type Order struct {
	ID              string
	UserID          string
	MarketID        string
	Option          Option
	Side            OrderSide
	RequestedAmount int64
	LimitPrice      decimal.Decimal
	ExecutedAmount  int64
	// ExecutePrice is the volume-weighted average fill price. Zero until the
	// first fill.
	ExecutePrice decimal.Decimal
	Status       OrderStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Remaining returns the unexecuted share count.
func (o Order) Remaining() int64 {
	return o.RequestedAmount - o.ExecutedAmount
}

// Exposure maps the order onto the option it actually backs and the per-share
// value committed for it. A SELL of X at p backs the opposite of X at 10-p.
func (o Order) Exposure() (Option, decimal.Decimal) {
	if o.Side == OrderSideSell {
		return o.Option.Opposite(), Notional.Sub(o.LimitPrice)
	}
	return o.Option, o.LimitPrice
}

// EffectiveOption is the option whose outcome pays this order.
func (o Order) EffectiveOption() Option {
	opt, _ := o.Exposure()
	return opt
}

// CommittedValue is the value locked for n shares of this order.
func (o Order) CommittedValue(n int64) decimal.Decimal {
	_, price := o.Exposure()
	return price.Mul(decimal.NewFromInt(n))
}

// ApplyFill records n shares executed at the order's quoted price, keeps
// ExecutePrice as the running VWAP and advances the status.
func (o *Order) ApplyFill(n int64, now time.Time) {
	prev := decimal.NewFromInt(o.ExecutedAmount)
	add := decimal.NewFromInt(n)
	total := prev.Add(add)
	o.ExecutePrice = o.ExecutePrice.Mul(prev).Add(o.LimitPrice.Mul(add)).Div(total)
	o.ExecutedAmount += n
	if o.ExecutedAmount == o.RequestedAmount {
		o.Status = OrderStatusExecuted
	} else {
		o.Status = OrderStatusPartiallyExecuted
	}
	o.UpdatedAt = now
}

// Fill is one executed leg. CounterOrderID is empty when the platform took
// the other side.
type Fill struct {
	ID             string
	MarketID       string
	OrderID        string
	CounterOrderID string
	UserID         string
	// Option is the effective option the shares back.
	Option Option
	Amount int64
	// Price is the order's quoted limit price; Value is what the platform
	// collected for the leg.
	Price     decimal.Decimal
	Value     decimal.Decimal
	House     bool
	CreatedAt time.Time
}

// OrderResult is returned to the submitter.
type OrderResult struct {
	OrderID         string
	Status          OrderStatus
	FilledAmount    int64
	RemainingAmount int64
	Fills           []Fill
	MarketExpired   bool
	MarketSettled   bool
}
