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

// openTakers matches orders with no taker restriction.
const openTakers = `(o.taker = '' OR o.taker = '0x0000000000000000000000000000000000000000')`

// TokenSetStore implements domain.TokenSetStore using PostgreSQL.
type TokenSetStore struct {
	pool *pgxpool.Pool
}

// NewTokenSetStore creates a new TokenSetStore backed by the given pool.
func NewTokenSetStore(pool *pgxpool.Pool) *TokenSetStore {
	return &TokenSetStore{pool: pool}
}

// Upsert persists the set and materializes its token membership. Sets are
// immutable by content hash, so a conflicting insert is a no-op.
func (s *TokenSetStore) Upsert(ctx context.Context, ts domain.TokenSet) error {
	const query = `
		INSERT INTO token_sets (id, kind, contract, collection_id,
		                        token_id, from_token_id, to_token_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO NOTHING`

	var tokenID, from, to *string
	if ts.TokenID != "" {
		tokenID = &ts.TokenID
	}
	if ts.FromTokenID != "" {
		from = &ts.FromTokenID
	}
	if ts.ToTokenID != "" {
		to = &ts.ToTokenID
	}

	tag, err := s.pool.Exec(ctx, query,
		ts.ID, string(ts.Kind), ts.Contract, ts.CollectionID, tokenID, from, to)
	if err != nil {
		return fmt.Errorf("postgres: upsert token set %s: %w", ts.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil // already materialized
	}

	return s.materializeMembers(ctx, ts)
}

// materializeMembers expands the set's membership into token_set_tokens.
func (s *TokenSetStore) materializeMembers(ctx context.Context, ts domain.TokenSet) error {
	switch ts.Kind {
	case domain.TokenSetSingle:
		_, err := s.pool.Exec(ctx, `
			INSERT INTO token_set_tokens (token_set_id, contract, token_id)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			ts.ID, ts.Contract, ts.TokenID)
		if err != nil {
			return fmt.Errorf("postgres: materialize single set %s: %w", ts.ID, err)
		}

	case domain.TokenSetList:
		for _, id := range ts.TokenIDs {
			_, err := s.pool.Exec(ctx, `
				INSERT INTO token_set_tokens (token_set_id, contract, token_id)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`,
				ts.ID, ts.Contract, id)
			if err != nil {
				return fmt.Errorf("postgres: materialize list set %s: %w", ts.ID, err)
			}
		}

	case domain.TokenSetContract:
		_, err := s.pool.Exec(ctx, `
			INSERT INTO token_set_tokens (token_set_id, contract, token_id)
			SELECT $1, t.contract, t.token_id FROM tokens t WHERE t.contract = $2
			ON CONFLICT DO NOTHING`,
			ts.ID, ts.Contract)
		if err != nil {
			return fmt.Errorf("postgres: materialize contract set %s: %w", ts.ID, err)
		}

	case domain.TokenSetRange:
		_, err := s.pool.Exec(ctx, `
			INSERT INTO token_set_tokens (token_set_id, contract, token_id)
			SELECT $1, t.contract, t.token_id FROM tokens t
			WHERE t.contract = $2
			  AND length(t.token_id) BETWEEN length($3) AND length($4)
			  AND t.token_id >= $3 AND t.token_id <= $4
			ON CONFLICT DO NOTHING`,
			ts.ID, ts.Contract, ts.FromTokenID, ts.ToTokenID)
		if err != nil {
			return fmt.Errorf("postgres: materialize range set %s: %w", ts.ID, err)
		}

	default:
		return fmt.Errorf("postgres: materialize set %s: unknown kind %q", ts.ID, ts.Kind)
	}
	return nil
}

// GetByID retrieves a token set.
func (s *TokenSetStore) GetByID(ctx context.Context, id string) (domain.TokenSet, error) {
	var ts domain.TokenSet
	var kind string
	var tokenID, from, to, topBuyID, topBuyValue *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, contract, collection_id,
		       token_id, from_token_id, to_token_id,
		       top_buy_id, top_buy_value::text, created_at
		FROM token_sets WHERE id = $1`, id,
	).Scan(&ts.ID, &kind, &ts.Contract, &ts.CollectionID,
		&tokenID, &from, &to, &topBuyID, &topBuyValue, &ts.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TokenSet{}, domain.ErrNotFound
		}
		return domain.TokenSet{}, fmt.Errorf("postgres: get token set %s: %w", id, err)
	}

	ts.Kind = domain.TokenSetKind(kind)
	if tokenID != nil {
		ts.TokenID = *tokenID
	}
	if from != nil {
		ts.FromTokenID = *from
	}
	if to != nil {
		ts.ToTokenID = *to
	}
	ts.TopBuyID = topBuyID
	if topBuyValue != nil {
		d, err := decimal.NewFromString(*topBuyValue)
		if err != nil {
			return domain.TokenSet{}, fmt.Errorf("postgres: parse top buy %q: %w", *topBuyValue, err)
		}
		ts.TopBuyValue = &d
	}
	return ts, nil
}

// TokensOf enumerates the member tokens of the set.
func (s *TokenSetStore) TokensOf(ctx context.Context, id string) ([]domain.Token, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT contract, token_id FROM token_set_tokens WHERE token_set_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: tokens of set %s: %w", id, err)
	}
	defer rows.Close()

	var tokens []domain.Token
	for rows.Next() {
		var t domain.Token
		if err := rows.Scan(&t.Contract, &t.TokenID); err != nil {
			return nil, fmt.Errorf("postgres: scan set member %s: %w", id, err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: tokens of set %s: %w", id, err)
	}
	return tokens, nil
}

// CollectionOf derives the owning collection id from the set's own metadata,
// independent of whether any order against the set still exists.
func (s *TokenSetStore) CollectionOf(ctx context.Context, id string) (string, error) {
	var collectionID string
	err := s.pool.QueryRow(ctx,
		`SELECT collection_id FROM token_sets WHERE id = $1`, id,
	).Scan(&collectionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("postgres: collection of set %s: %w", id, err)
	}
	return collectionID, nil
}

// refreshTopBuySQL is the buy-side counterpart of the floor refresh: the
// maximum-value active open bid referencing the set, net of fees, written
// only when it materially differs, with exactly one event row per write.
const refreshTopBuySQL = `
WITH best AS (
    SELECT o.id, o.value
    FROM orders o
    WHERE o.token_set_id = $1
      AND o.side = 'buy'
      AND o.fillability_status = 'fillable'
      AND o.approval_status = 'approved'
      AND ` + openTakers + `
    ORDER BY o.value DESC, o.fee_bps ASC, o.id ASC
    LIMIT 1
),
b AS (
    SELECT (SELECT id FROM best) AS order_id,
           (SELECT value FROM best) AS value
),
updated AS (
    UPDATE token_sets ts
    SET top_buy_id = b.order_id,
        top_buy_value = b.value
    FROM b, token_sets prev
    WHERE ts.id = $1
      AND prev.id = ts.id
      AND (ts.top_buy_id IS DISTINCT FROM b.order_id
        OR ts.top_buy_value IS DISTINCT FROM b.value)
    RETURNING ts.top_buy_id, ts.top_buy_value, prev.top_buy_value AS previous_value
)
INSERT INTO token_set_top_buy_events
    (token_set_id, order_id, price, previous_price, kind,
     tx_hash, tx_timestamp, log_index, block_hash)
SELECT $1, u.top_buy_id, u.top_buy_value, u.previous_value, $2,
       $3, $4, $5, $6
FROM updated u
RETURNING id, order_id, price::text, previous_price::text, created_at`

// RefreshTopBuy recomputes the set's top-buy cache. A nil event means the
// cached value was already correct.
func (s *TokenSetStore) RefreshTopBuy(ctx context.Context, id string, trigger domain.TriggerKind, tx *domain.TxContext) (*domain.CacheChangeEvent, error) {
	txHash, ts, logIndex, blockHash := txArgs(tx)

	var r refreshRow
	err := s.pool.QueryRow(ctx, refreshTopBuySQL,
		id, string(trigger), txHash, ts, logIndex, blockHash,
	).Scan(&r.id, &r.orderID, &r.price, &r.previousPrice, &r.createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: refresh top buy %s: %w", id, err)
	}

	ev, err := r.toEvent(domain.ChangeTokenSetTopBuy, trigger, tx)
	if err != nil {
		return nil, fmt.Errorf("postgres: refresh top buy %s: %w", id, err)
	}
	ev.TokenSetID = id
	return &ev, nil
}

// Compile-time interface check.
var _ domain.TokenSetStore = (*TokenSetStore)(nil)
