package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// NonceStore implements domain.NonceStore using PostgreSQL.
type NonceStore struct {
	pool *pgxpool.Pool
}

// NewNonceStore creates a new NonceStore backed by the given pool.
func NewNonceStore(pool *pgxpool.Pool) *NonceStore {
	return &NonceStore{pool: pool}
}

// GetMasterNonce returns the maker's last observed protocol nonce, or zero
// when none was recorded yet.
func (s *NonceStore) GetMasterNonce(ctx context.Context, kind domain.OrderKind, maker string) (uint64, error) {
	var nonce int64
	err := s.pool.QueryRow(ctx,
		`SELECT nonce FROM maker_nonces WHERE kind = $1 AND maker = $2`,
		string(kind), maker,
	).Scan(&nonce)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: get master nonce %s/%s: %w", kind, maker, err)
	}
	return uint64(nonce), nil
}

// SetMasterNonce records the maker's protocol nonce. Nonces only move forward
// on-chain, so a lower value never overwrites a higher one.
func (s *NonceStore) SetMasterNonce(ctx context.Context, kind domain.OrderKind, maker string, nonce uint64) error {
	const query = `
		INSERT INTO maker_nonces (kind, maker, nonce, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (kind, maker) DO UPDATE
		SET nonce = EXCLUDED.nonce, updated_at = NOW()
		WHERE maker_nonces.nonce < EXCLUDED.nonce`

	if _, err := s.pool.Exec(ctx, query, string(kind), maker, int64(nonce)); err != nil {
		return fmt.Errorf("postgres: set master nonce %s/%s: %w", kind, maker, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.NonceStore = (*NonceStore)(nil)
