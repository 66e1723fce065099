package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// BookStore implements domain.BookStore using PostgreSQL. Commit runs in one
// transaction guarded by the market row's version column.
type BookStore struct {
	pool *pgxpool.Pool
}

// NewBookStore creates a new BookStore backed by the given connection pool.
func NewBookStore(pool *pgxpool.Pool) *BookStore {
	return &BookStore{pool: pool}
}

const marketCols = `id, question, threshold, expiry, yes_price, no_price,
	yes_shares, no_shares, yes_value, no_value,
	status, expiry_trigger, result, halted, halt_reason, version,
	created_at, updated_at, expired_at, settled_at`

const orderCols = `id, user_id, market_id, option, side, requested_amount,
	limit_price, executed_amount, execute_price, status, created_at, updated_at`

const fillCols = `id, market_id, order_id, counter_order_id, user_id, option,
	amount, price, value, house, created_at`

// CreateMarket inserts a new market at version 1.
func (s *BookStore) CreateMarket(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, threshold, expiry, yes_price, no_price,
			status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Threshold, m.Expiry, m.YesPrice, m.NoPrice,
		string(m.Status), m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: create market %q: %w", m.Question, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status, trigger, result string
	err := row.Scan(
		&m.ID, &m.Question, &m.Threshold, &m.Expiry, &m.YesPrice, &m.NoPrice,
		&m.YesShares, &m.NoShares, &m.YesValue, &m.NoValue,
		&status, &trigger, &result, &m.Halted, &m.HaltReason, &m.Version,
		&m.CreatedAt, &m.UpdatedAt, &m.ExpiredAt, &m.SettledAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.Trigger = domain.ExpiryTrigger(trigger)
	m.Result = domain.Option(result)
	return m, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var option, side, status string
	err := row.Scan(
		&o.ID, &o.UserID, &o.MarketID, &option, &side, &o.RequestedAmount,
		&o.LimitPrice, &o.ExecutedAmount, &o.ExecutePrice, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Option = domain.Option(option)
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// GetMarket retrieves a market by its primary key.
func (s *BookStore) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(ctx, s.pool, id)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getMarket(ctx context.Context, q querier, id string) (domain.Market, error) {
	m, err := scanMarket(q.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns markets in any of statuses (all when empty), soonest
// expiry first.
func (s *BookStore) ListMarkets(ctx context.Context, statuses []domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, names)
	}
	query, args = paginate(query+` ORDER BY expiry ASC, id ASC`, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

// LoadBook returns the market and its non-terminal orders, oldest first.
func (s *BookStore) LoadBook(ctx context.Context, marketID string) (domain.MarketBook, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.MarketBook{}, fmt.Errorf("postgres: begin load book %s: %w", marketID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := getMarket(ctx, tx, marketID)
	if err != nil {
		return domain.MarketBook{}, err
	}
	orders, err := queryOrders(ctx, tx,
		`SELECT `+orderCols+` FROM orders
		 WHERE market_id = $1 AND status NOT IN ('cancelled', 'settled')
		 ORDER BY created_at ASC, id ASC`, marketID)
	if err != nil {
		return domain.MarketBook{}, err
	}
	return domain.MarketBook{Market: m, Orders: orders}, nil
}

func queryOrders(ctx context.Context, q querier, query string, args ...any) ([]domain.Order, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query orders rows: %w", err)
	}
	return out, nil
}

// Commit writes the market, its touched orders and new fills in a single
// transaction. The market update only matches the expected version; zero
// affected rows means another writer committed first.
func (s *BookStore) Commit(ctx context.Context, mut domain.Mutation) error {
	m := mut.Market
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin commit %s: %w", m.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const updateMarket = `
		UPDATE markets SET
			yes_price = $3, no_price = $4,
			yes_shares = $5, no_shares = $6, yes_value = $7, no_value = $8,
			status = $9, expiry_trigger = $10, result = $11,
			halted = $12, halt_reason = $13,
			updated_at = $14, expired_at = $15, settled_at = $16,
			version = version + 1
		WHERE id = $1 AND version = $2`
	tag, err := tx.Exec(ctx, updateMarket,
		m.ID, mut.ExpectedVersion,
		m.YesPrice, m.NoPrice,
		m.YesShares, m.NoShares, m.YesValue, m.NoValue,
		string(m.Status), string(m.Trigger), string(m.Result),
		m.Halted, m.HaltReason,
		m.UpdatedAt, m.ExpiredAt, m.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := getMarket(ctx, tx, m.ID); err != nil {
			return err
		}
		return fmt.Errorf("postgres: commit %s at version %d: %w", m.ID, mut.ExpectedVersion, domain.ErrConcurrencyConflict)
	}

	batch := &pgx.Batch{}
	const upsertOrder = `
		INSERT INTO orders (` + orderCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			executed_amount = EXCLUDED.executed_amount,
			execute_price   = EXCLUDED.execute_price,
			status          = EXCLUDED.status,
			updated_at      = EXCLUDED.updated_at`
	for _, o := range mut.Orders {
		batch.Queue(upsertOrder,
			o.ID, o.UserID, o.MarketID, string(o.Option), string(o.Side), o.RequestedAmount,
			o.LimitPrice, o.ExecutedAmount, o.ExecutePrice, string(o.Status), o.CreatedAt, o.UpdatedAt,
		)
	}
	const insertFill = `INSERT INTO fills (` + fillCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for _, f := range mut.Fills {
		batch.Queue(insertFill,
			f.ID, f.MarketID, f.OrderID, f.CounterOrderID, f.UserID, string(f.Option),
			f.Amount, f.Price, f.Value, f.House, f.CreatedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: commit %s batch item %d: %w", m.ID, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: commit %s close batch: %w", m.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit %s: %w", m.ID, err)
	}
	return nil
}

// ListUserOrders returns a user's orders, newest first, optionally limited to
// one market.
func (s *BookStore) ListUserOrders(ctx context.Context, userID, marketID string) ([]domain.Order, error) {
	query := `SELECT ` + orderCols + ` FROM orders WHERE user_id = $1`
	args := []any{userID}
	if marketID != "" {
		query += ` AND market_id = $2`
		args = append(args, marketID)
	}
	return queryOrders(ctx, s.pool, query+` ORDER BY created_at DESC, id DESC`, args...)
}

// ListFills returns every fill on a market in execution order.
func (s *BookStore) ListFills(ctx context.Context, marketID string) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillCols+` FROM fills WHERE market_id = $1 ORDER BY seq ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var option string
		if err := rows.Scan(
			&f.ID, &f.MarketID, &f.OrderID, &f.CounterOrderID, &f.UserID, &option,
			&f.Amount, &f.Price, &f.Value, &f.House, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Option = domain.Option(option)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills rows: %w", err)
	}
	return out, nil
}

// paginate appends LIMIT/OFFSET placeholders after the existing args.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
