package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// BlockStore implements domain.BlockStore using PostgreSQL.
type BlockStore struct {
	pool *pgxpool.Pool
}

// NewBlockStore creates a new BlockStore backed by the given pool.
func NewBlockStore(pool *pgxpool.Pool) *BlockStore {
	return &BlockStore{pool: pool}
}

// Upsert persists the block. Re-syncing the same (number, hash) is a no-op.
func (s *BlockStore) Upsert(ctx context.Context, b domain.Block) error {
	const query = `
		INSERT INTO blocks (number, hash, parent_hash, timestamp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (number, hash) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, int64(b.Number), b.Hash, b.ParentHash, b.Timestamp); err != nil {
		return fmt.Errorf("postgres: upsert block %d (%s): %w", b.Number, b.Hash, err)
	}
	return nil
}

// GetByNumber retrieves the most recently synced block at the given height.
func (s *BlockStore) GetByNumber(ctx context.Context, number uint64) (domain.Block, error) {
	var b domain.Block
	var num int64
	err := s.pool.QueryRow(ctx, `
		SELECT number, hash, parent_hash, timestamp
		FROM blocks WHERE number = $1
		ORDER BY created_at DESC LIMIT 1`, int64(number),
	).Scan(&num, &b.Hash, &b.ParentHash, &b.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Block{}, domain.ErrNotFound
		}
		return domain.Block{}, fmt.Errorf("postgres: get block %d: %w", number, err)
	}
	b.Number = uint64(num)
	return b, nil
}

// Delete removes the block row at (number, hash).
func (s *BlockStore) Delete(ctx context.Context, number uint64, hash string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM blocks WHERE number = $1 AND hash = $2`, int64(number), hash); err != nil {
		return fmt.Errorf("postgres: delete block %d (%s): %w", number, hash, err)
	}
	return nil
}

// derivedEventTables lists every table carrying rows derived from a specific
// block, cleaned up together when that block turns out to be orphaned.
var derivedEventTables = []string{
	"fill_events",
	"cancel_events",
	"token_floor_sell_events",
	"token_set_top_buy_events",
	"collection_floor_sell_events",
	"collection_top_buy_events",
}

// DeleteDerived removes every derived event row tied to the block hash.
func (s *BlockStore) DeleteDerived(ctx context.Context, hash string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: delete derived for %s: %w", hash, err)
	}
	defer tx.Rollback(ctx)

	for _, table := range derivedEventTables {
		query := fmt.Sprintf(`DELETE FROM %s WHERE block_hash = $1`, table)
		if _, err := tx.Exec(ctx, query, hash); err != nil {
			return fmt.Errorf("postgres: delete derived %s for %s: %w", table, hash, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: delete derived for %s: %w", hash, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BlockStore = (*BlockStore)(nil)
