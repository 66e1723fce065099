package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Ledger owns user balances. Every call carries a reference that makes it
// idempotent: repeating a ref never moves funds twice.
type Ledger interface {
	// Reserve debits amount or fails with ErrInsufficientFunds.
	Reserve(ctx context.Context, userID string, amount decimal.Decimal, ref string) error
	Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

// OutcomeOracle reports the real-world value a market threshold is compared
// against. Failures wrap ErrOracleUnavailable.
type OutcomeOracle interface {
	Resolve(ctx context.Context, threshold decimal.Decimal) (decimal.Decimal, error)
}
