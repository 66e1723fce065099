package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// Ledger implements domain.Ledger on the balances and ledger_entries tables.
// Each ref is recorded once; replays are no-ops.
type Ledger struct {
	pool *pgxpool.Pool
	seed decimal.Decimal
}

// NewLedger creates a Ledger. Accounts are opened with seed on first use.
func NewLedger(pool *pgxpool.Pool, seed decimal.Decimal) *Ledger {
	return &Ledger{pool: pool, seed: seed}
}

// Reserve debits amount from userID or fails with domain.ErrInsufficientFunds.
func (l *Ledger) Reserve(ctx context.Context, userID string, amount decimal.Decimal, ref string) error {
	return l.apply(ctx, userID, amount.Neg(), ref)
}

// Credit adds amount to userID.
func (l *Ledger) Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error {
	return l.apply(ctx, userID, amount, ref)
}

func (l *Ledger) apply(ctx context.Context, userID string, delta decimal.Decimal, ref string) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin ledger %s: %w", ref, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (ref, user_id, delta) VALUES ($1, $2, $3)
		 ON CONFLICT (ref) DO NOTHING`, ref, userID, delta)
	if err != nil {
		return fmt.Errorf("postgres: record ledger entry %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO balances (user_id, balance) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`, userID, l.seed); err != nil {
		return fmt.Errorf("postgres: open account %s: %w", userID, err)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE balances SET balance = balance + $2, updated_at = NOW()
		 WHERE user_id = $1 AND balance + $2 >= 0`, userID, delta)
	if err != nil {
		return fmt.Errorf("postgres: apply %s to %s: %w", delta, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: reserve %s from %s: %w", delta.Neg(), userID, domain.ErrInsufficientFunds)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger %s: %w", ref, err)
	}
	return nil
}

// Balance returns the available balance of userID.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var b decimal.Decimal
	err := l.pool.QueryRow(ctx, `SELECT balance FROM balances WHERE user_id = $1`, userID).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return l.seed, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: balance of %s: %w", userID, err)
	}
	return b, nil
}
