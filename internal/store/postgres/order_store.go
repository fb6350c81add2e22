package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// terminalGuard excludes rows whose fillability is terminal. Every mutating
// statement carries it so no transition ever leaves filled/cancelled/expired.
const terminalGuard = `fillability_status NOT IN ('filled', 'cancelled', 'expired')`

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Insert persists a new order. The deterministic id makes re-ingestion a
// conflict, reported as domain.ErrAlreadyExists.
func (s *OrderStore) Insert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, kind, side, fillability_status, approval_status,
			token_set_id, maker, taker,
			raw_price, price, value, currency,
			valid_from, valid_until, quantity_remaining, nonce,
			fee_bps, missing_royalty_bps, source,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9::numeric, $10::numeric, $11::numeric, $12,
			$13, $14, $15, $16,
			$17, $18, $19,
			NOW(), NOW()
		)
		ON CONFLICT (id) DO NOTHING`

	var validUntil *time.Time
	if !o.ValidUntil.IsZero() {
		validUntil = &o.ValidUntil
	}

	rawPrice := "0"
	if o.RawPrice != nil {
		rawPrice = o.RawPrice.String()
	}

	tag, err := s.pool.Exec(ctx, query,
		o.ID, string(o.Kind), string(o.Side), string(o.Fillability), string(o.Approval),
		o.TokenSetID, o.Maker, o.Taker,
		rawPrice, o.Price.String(), o.Value.String(), o.Currency,
		o.ValidFrom, validUntil, o.QuantityRemaining, int64(o.Nonce),
		o.FeeBps, o.MissingRoyaltyBps, o.Source,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

const orderSelectCols = `id, kind, side, fillability_status, approval_status,
	token_set_id, maker, taker,
	raw_price::text, price::text, value::text, currency,
	valid_from, valid_until, quantity_remaining, nonce,
	fee_bps, missing_royalty_bps, source, created_at, updated_at`

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var kind, side, fillability, approval string
	var rawPrice, price, value string
	var validUntil *time.Time
	var nonce int64

	err := scanner.Scan(
		&o.ID, &kind, &side, &fillability, &approval,
		&o.TokenSetID, &o.Maker, &o.Taker,
		&rawPrice, &price, &value, &o.Currency,
		&o.ValidFrom, &validUntil, &o.QuantityRemaining, &nonce,
		&o.FeeBps, &o.MissingRoyaltyBps, &o.Source, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Kind = domain.OrderKind(kind)
	o.Side = domain.Side(side)
	o.Fillability = domain.FillabilityStatus(fillability)
	o.Approval = domain.ApprovalStatus(approval)
	o.Nonce = uint64(nonce)
	if validUntil != nil {
		o.ValidUntil = *validUntil
	}

	o.RawPrice = new(big.Int)
	o.RawPrice.SetString(rawPrice, 10)
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Order{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	if o.Value, err = decimal.NewFromString(value); err != nil {
		return domain.Order{}, fmt.Errorf("parse value %q: %w", value, err)
	}
	return o, nil
}

// GetByID retrieves a single order by its deterministic hash.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// GetByMakerNonce looks an order up by (kind, maker, nonce). When several
// orders share a nonce the most recent one wins, matching how protocol nonces
// invalidate older orders.
func (s *OrderStore) GetByMakerNonce(ctx context.Context, kind domain.OrderKind, maker string, nonce uint64) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE kind = $1 AND maker = $2 AND nonce = $3
		 ORDER BY created_at DESC
		 LIMIT 1`,
		string(kind), maker, int64(nonce))

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order by nonce %s/%d: %w", maker, nonce, err)
	}
	return o, nil
}

const statusChangeCols = `id, token_set_id, side, fillability_status, approval_status`

func scanStatusChange(scanner interface{ Scan(dest ...any) error }) (domain.StatusChange, error) {
	var sc domain.StatusChange
	var side, fillability, approval string
	if err := scanner.Scan(&sc.OrderID, &sc.TokenSetID, &side, &fillability, &approval); err != nil {
		return domain.StatusChange{}, err
	}
	sc.Side = domain.Side(side)
	sc.Fillability = domain.FillabilityStatus(fillability)
	sc.Approval = domain.ApprovalStatus(approval)
	return sc, nil
}

func scanStatusChanges(rows pgx.Rows) ([]domain.StatusChange, error) {
	var out []domain.StatusChange
	for rows.Next() {
		sc, err := scanStatusChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// UpdateStatus transitions the fillability/approval pair. The WHERE clause
// requires the stored pair to differ and the current status to be
// non-terminal, so re-delivery of the same fact is a no-op (nil change).
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, f domain.FillabilityStatus, a domain.ApprovalStatus) (*domain.StatusChange, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET fillability_status = $2, approval_status = $3, updated_at = NOW()
		WHERE id = $1
		  AND (fillability_status IS DISTINCT FROM $2 OR approval_status IS DISTINCT FROM $3)
		  AND `+terminalGuard+`
		RETURNING `+statusChangeCols,
		id, string(f), string(a))

	sc, err := scanStatusChange(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	return &sc, nil
}

// Fill decrements quantity_remaining, moving the order to filled once it
// reaches zero. Partially filled orders stay fillable.
func (s *OrderStore) Fill(ctx context.Context, id string, amount int64) (*domain.StatusChange, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET quantity_remaining = GREATEST(quantity_remaining - $2, 0),
		    fillability_status = CASE
		        WHEN quantity_remaining - $2 <= 0 THEN 'filled'
		        ELSE fillability_status
		    END,
		    updated_at = NOW()
		WHERE id = $1 AND `+terminalGuard+`
		RETURNING `+statusChangeCols,
		id, amount)

	sc, err := scanStatusChange(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: fill order %s: %w", id, err)
	}
	return &sc, nil
}

// CancelByNonceRange cancels every non-terminal order of the maker with a
// nonce strictly below minNonce.
func (s *OrderStore) CancelByNonceRange(ctx context.Context, kind domain.OrderKind, maker string, minNonce uint64) ([]domain.StatusChange, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE orders
		SET fillability_status = 'cancelled', updated_at = NOW()
		WHERE kind = $1 AND maker = $2 AND nonce < $3 AND `+terminalGuard+`
		RETURNING `+statusChangeCols,
		string(kind), maker, int64(minNonce))
	if err != nil {
		return nil, fmt.Errorf("postgres: bulk cancel %s/%s: %w", kind, maker, err)
	}
	defer rows.Close()

	changes, err := scanStatusChanges(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bulk cancel %s/%s: %w", kind, maker, err)
	}
	return changes, nil
}

// InvalidateByNonce cancels the maker's orders at exactly the given nonce.
// With restore set it reverses a prior nonce invalidation: the cancellation
// never happened on the canonical chain (reorg correction), which is the one
// path allowed to leave the cancelled state.
func (s *OrderStore) InvalidateByNonce(ctx context.Context, kind domain.OrderKind, maker string, nonce uint64, restore bool) ([]domain.StatusChange, error) {
	var query string
	if restore {
		query = `
			UPDATE orders
			SET fillability_status = 'fillable', updated_at = NOW()
			WHERE kind = $1 AND maker = $2 AND nonce = $3
			  AND fillability_status = 'cancelled'
			RETURNING ` + statusChangeCols
	} else {
		query = `
			UPDATE orders
			SET fillability_status = 'cancelled', updated_at = NOW()
			WHERE kind = $1 AND maker = $2 AND nonce = $3 AND ` + terminalGuard + `
			RETURNING ` + statusChangeCols
	}

	rows, err := s.pool.Query(ctx, query, string(kind), maker, int64(nonce))
	if err != nil {
		return nil, fmt.Errorf("postgres: invalidate nonce %s/%s/%d: %w", kind, maker, nonce, err)
	}
	defer rows.Close()

	changes, err := scanStatusChanges(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan invalidate nonce %s/%s/%d: %w", kind, maker, nonce, err)
	}
	return changes, nil
}

// ExpireBefore transitions every fillable order whose validity window ended
// before cutoff to expired.
func (s *OrderStore) ExpireBefore(ctx context.Context, cutoff time.Time) ([]domain.StatusChange, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE orders
		SET fillability_status = 'expired', updated_at = NOW()
		WHERE fillability_status = 'fillable'
		  AND valid_until IS NOT NULL AND valid_until < $1
		RETURNING `+statusChangeCols,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: expire orders: %w", err)
	}
	defer rows.Close()

	changes, err := scanStatusChanges(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expired orders: %w", err)
	}
	return changes, nil
}

// ListRecoverable returns orders parked in a recoverable status, oldest
// check first, for periodic revalidation.
func (s *OrderStore) ListRecoverable(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE fillability_status = 'no-balance' OR approval_status = 'no-approval'
		 ORDER BY updated_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recoverable orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan recoverable order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recoverable orders: %w", err)
	}
	return orders, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
