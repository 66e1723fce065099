package oracle

import (
	"context"

	"github.com/shopspring/decimal"
)

// Static always observes the same value.
type Static struct {
	Value decimal.Decimal
}

// Resolve returns s.Value.
func (s Static) Resolve(context.Context, decimal.Decimal) (decimal.Decimal, error) {
	return s.Value, nil
}
