package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/shopspring/decimal"
)

// Ledger implements domain.Ledger. Users it has not seen start at the seed
// balance.
type Ledger struct {
	mu       sync.Mutex
	seed     decimal.Decimal
	balances map[string]decimal.Decimal
	applied  map[string]struct{}
}

// NewLedger returns a Ledger that opens accounts with seed.
func NewLedger(seed decimal.Decimal) *Ledger {
	return &Ledger{
		seed:     seed,
		balances: make(map[string]decimal.Decimal),
		applied:  make(map[string]struct{}),
	}
}

func (l *Ledger) balance(userID string) decimal.Decimal {
	b, ok := l.balances[userID]
	if !ok {
		b = l.seed
		l.balances[userID] = b
	}
	return b
}

// Reserve debits amount from userID.
func (l *Ledger) Reserve(_ context.Context, userID string, amount decimal.Decimal, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.applied[ref]; done {
		return nil
	}
	b := l.balance(userID)
	if b.LessThan(amount) {
		return fmt.Errorf("memory: reserve %s from %s (balance %s): %w", amount, userID, b, domain.ErrInsufficientFunds)
	}
	l.balances[userID] = b.Sub(amount)
	l.applied[ref] = struct{}{}
	return nil
}

// Credit adds amount to userID.
func (l *Ledger) Credit(_ context.Context, userID string, amount decimal.Decimal, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.applied[ref]; done {
		return nil
	}
	l.balances[userID] = l.balance(userID).Add(amount)
	l.applied[ref] = struct{}{}
	return nil
}

// Balance returns the available balance of userID.
func (l *Ledger) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(userID), nil
}
