package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketBook is a market together with every order on it that is not yet
// settled or cancelled. It is the unit of per-market read-modify-write.
type MarketBook struct {
	Market Market
	Orders []Order
}

// Mutation is the write half of a read-modify-write cycle. Commit succeeds
// only if the stored market version still equals ExpectedVersion.
type Mutation struct {
	ExpectedVersion int64
	Market          Market
	Orders          []Order
	Fills           []Fill
}

// BookLevel is the remaining-amount view of one resting order.
type BookLevel struct {
	OrderID   string
	UserID    string
	Side      OrderSide
	Price     decimal.Decimal
	Remaining int64
	CreatedAt time.Time
}

// OrderBook lists resting orders per option, price descending.
type OrderBook struct {
	MarketID   string
	YesOrders  []BookLevel
	NoOrders   []BookLevel
	YesPrice   decimal.Decimal
	NoPrice    decimal.Decimal
	ObservedAt time.Time
}
