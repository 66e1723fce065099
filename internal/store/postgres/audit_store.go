package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// AuditStore keeps the append-only audit_log table. Detail maps are stored
// as JSONB through pgx's JSON codec.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, detail,
	); err != nil {
		return fmt.Errorf("postgres: append audit %s: %w", event, err)
	}
	return nil
}

// List pages the log newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := paginate(`SELECT id, event, detail, created_at FROM audit_log ORDER BY id DESC`, nil, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit log: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var e domain.AuditEntry
		err := row.Scan(&e.ID, &e.Event, &e.Detail, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit log: %w", err)
	}
	return entries, nil
}
