package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// TokenStore implements domain.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a new TokenStore backed by the given connection pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Upsert persists the token. New tokens are also linked into any existing
// contract-wide or range token sets they fall into, so late mints become
// visible to standing collection offers.
func (s *TokenStore) Upsert(ctx context.Context, t domain.Token) error {
	const query = `
		INSERT INTO tokens (contract, token_id, collection_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (contract, token_id) DO UPDATE
		SET collection_id = EXCLUDED.collection_id, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, t.Contract, t.TokenID, t.CollectionID); err != nil {
		return fmt.Errorf("postgres: upsert token %s:%s: %w", t.Contract, t.TokenID, err)
	}

	const link = `
		INSERT INTO token_set_tokens (token_set_id, contract, token_id)
		SELECT ts.id, $1, $2
		FROM token_sets ts
		WHERE ts.contract = $1
		  AND (ts.kind = 'contract'
		    OR (ts.kind = 'range'
		        AND length($2) BETWEEN length(ts.from_token_id) AND length(ts.to_token_id)
		        AND $2 >= ts.from_token_id AND $2 <= ts.to_token_id))
		ON CONFLICT DO NOTHING`

	if _, err := s.pool.Exec(ctx, link, t.Contract, t.TokenID); err != nil {
		return fmt.Errorf("postgres: link token %s:%s into sets: %w", t.Contract, t.TokenID, err)
	}
	return nil
}

// GetByID retrieves a single token.
func (s *TokenStore) GetByID(ctx context.Context, contract, tokenID string) (domain.Token, error) {
	var t domain.Token
	var floorValue *string
	err := s.pool.QueryRow(ctx, `
		SELECT contract, token_id, collection_id,
		       floor_sell_id, floor_sell_value::text, created_at, updated_at
		FROM tokens WHERE contract = $1 AND token_id = $2`,
		contract, tokenID,
	).Scan(&t.Contract, &t.TokenID, &t.CollectionID, &t.FloorSellID, &floorValue, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Token{}, domain.ErrNotFound
		}
		return domain.Token{}, fmt.Errorf("postgres: get token %s:%s: %w", contract, tokenID, err)
	}
	if floorValue != nil {
		d, err := decimal.NewFromString(*floorValue)
		if err != nil {
			return domain.Token{}, fmt.Errorf("postgres: parse token floor %q: %w", *floorValue, err)
		}
		t.FloorSellValue = &d
	}
	return t, nil
}

// refreshFloorSellSQL recomputes one token's floor-sell pointer in a single
// statement: pick the best active sell order over any set containing the
// token, write the pointer only when it materially differs (IS DISTINCT
// FROM), and append exactly one event row when -- and only when -- the write
// happened. Concurrent executions against the same token serialize on the
// row lock and converge to the same final value.
const refreshFloorSellSQL = `
WITH best AS (
    SELECT o.id, o.price
    FROM orders o
    JOIN token_set_tokens tst ON tst.token_set_id = o.token_set_id
    WHERE tst.contract = $1 AND tst.token_id = $2
      AND o.side = 'sell'
      AND o.fillability_status = 'fillable'
      AND o.approval_status = 'approved'
    ORDER BY o.price ASC, o.fee_bps ASC, o.id ASC
    LIMIT 1
),
b AS (
    SELECT (SELECT id FROM best) AS order_id,
           (SELECT price FROM best) AS price
),
updated AS (
    UPDATE tokens t
    SET floor_sell_id = b.order_id,
        floor_sell_value = b.price,
        updated_at = NOW()
    FROM b, tokens prev
    WHERE t.contract = $1 AND t.token_id = $2
      AND prev.contract = t.contract AND prev.token_id = t.token_id
      AND (t.floor_sell_id IS DISTINCT FROM b.order_id
        OR t.floor_sell_value IS DISTINCT FROM b.price)
    RETURNING t.floor_sell_id, t.floor_sell_value, prev.floor_sell_value AS previous_value
)
INSERT INTO token_floor_sell_events
    (contract, token_id, order_id, price, previous_price, kind,
     tx_hash, tx_timestamp, log_index, block_hash)
SELECT $1, $2, u.floor_sell_id, u.floor_sell_value, u.previous_value, $3,
       $4, $5, $6, $7
FROM updated u
RETURNING id, order_id, price::text, previous_price::text, created_at`

// RefreshFloorSell recomputes the token's floor-sell cache. A nil event means
// the cached value was already correct and nothing was written.
func (s *TokenStore) RefreshFloorSell(ctx context.Context, contract, tokenID string, trigger domain.TriggerKind, tx *domain.TxContext) (*domain.CacheChangeEvent, error) {
	txHash, ts, logIndex, blockHash := txArgs(tx)

	var r refreshRow
	err := s.pool.QueryRow(ctx, refreshFloorSellSQL,
		contract, tokenID, string(trigger), txHash, ts, logIndex, blockHash,
	).Scan(&r.id, &r.orderID, &r.price, &r.previousPrice, &r.createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: refresh floor sell %s:%s: %w", contract, tokenID, err)
	}

	ev, err := r.toEvent(domain.ChangeTokenFloorSell, trigger, tx)
	if err != nil {
		return nil, fmt.Errorf("postgres: refresh floor sell %s:%s: %w", contract, tokenID, err)
	}
	ev.Contract = contract
	ev.TokenID = tokenID
	return &ev, nil
}

// Compile-time interface check.
var _ domain.TokenStore = (*TokenStore)(nil)
