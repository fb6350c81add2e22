package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// FactStore implements domain.FactStore using PostgreSQL. The (tx_hash,
// log_index) unique constraint carries the dedup: an insert that hits the
// conflict produces no row, so only genuinely new facts come back.
type FactStore struct {
	pool *pgxpool.Pool
}

// NewFactStore creates a new FactStore backed by the given pool.
func NewFactStore(pool *pgxpool.Pool) *FactStore {
	return &FactStore{pool: pool}
}

// InsertFills records the fills and returns the subset that was actually new.
func (s *FactStore) InsertFills(ctx context.Context, fills []domain.Fill) ([]domain.Fill, error) {
	if len(fills) == 0 {
		return nil, nil
	}

	const query = `
		INSERT INTO fill_events (order_id, kind, side, maker, taker, contract,
		                         token_id, amount, raw_price, currency,
		                         tx_hash, log_index, block_hash, tx_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12, $13, $14)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`

	var inserted []domain.Fill
	for _, f := range fills {
		var rawPrice *string
		if f.RawPrice != nil {
			v := f.RawPrice.String()
			rawPrice = &v
		}
		tag, err := s.pool.Exec(ctx, query,
			f.OrderID, string(f.Kind), string(f.Side), f.Maker, f.Taker,
			f.Contract, f.TokenID, f.Amount, rawPrice, f.Currency,
			f.Tx.TxHash, f.Tx.LogIndex, f.Tx.BlockHash, f.Tx.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("postgres: insert fill %s/%d: %w", f.Tx.TxHash, f.Tx.LogIndex, err)
		}
		if tag.RowsAffected() > 0 {
			inserted = append(inserted, f)
		}
	}
	return inserted, nil
}

// InsertCancels records the cancels and returns the subset that was actually
// new.
func (s *FactStore) InsertCancels(ctx context.Context, cancels []domain.Cancel) ([]domain.Cancel, error) {
	if len(cancels) == 0 {
		return nil, nil
	}

	const query = `
		INSERT INTO cancel_events (order_id, kind, tx_hash, log_index, block_hash, tx_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`

	var inserted []domain.Cancel
	for _, c := range cancels {
		tag, err := s.pool.Exec(ctx, query,
			c.OrderID, string(c.Kind),
			c.Tx.TxHash, c.Tx.LogIndex, c.Tx.BlockHash, c.Tx.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("postgres: insert cancel %s/%d: %w", c.Tx.TxHash, c.Tx.LogIndex, err)
		}
		if tag.RowsAffected() > 0 {
			inserted = append(inserted, c)
		}
	}
	return inserted, nil
}

// ListTokenSetsByBlock resolves the distinct token sets referenced by the
// fills and cancels recorded under the block hash.
func (s *FactStore) ListTokenSetsByBlock(ctx context.Context, blockHash string) ([]string, error) {
	const query = `
		SELECT DISTINCT o.token_set_id
		FROM orders o
		WHERE o.id IN (
			SELECT order_id FROM fill_events WHERE block_hash = $1
			UNION
			SELECT order_id FROM cancel_events WHERE block_hash = $1
		)`

	rows, err := s.pool.Query(ctx, query, blockHash)
	if err != nil {
		return nil, fmt.Errorf("postgres: list token sets for block %s: %w", blockHash, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan token set for block %s: %w", blockHash, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list token sets for block %s: %w", blockHash, err)
	}
	return ids, nil
}

// Compile-time interface check.
var _ domain.FactStore = (*FactStore)(nil)
