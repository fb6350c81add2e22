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

// CollectionStore implements domain.CollectionStore using PostgreSQL.
type CollectionStore struct {
	pool *pgxpool.Pool
}

// NewCollectionStore creates a new CollectionStore backed by the given pool.
func NewCollectionStore(pool *pgxpool.Pool) *CollectionStore {
	return &CollectionStore{pool: pool}
}

// Upsert persists collection metadata.
func (s *CollectionStore) Upsert(ctx context.Context, c domain.Collection) error {
	const query = `
		INSERT INTO collections (id, contract, name, royalty_bps, royalty_recipients,
		                         created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    royalty_bps = EXCLUDED.royalty_bps,
		    royalty_recipients = EXCLUDED.royalty_recipients,
		    updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query,
		c.ID, c.Contract, c.Name, c.RoyaltyBps, c.RoyaltyRecipients); err != nil {
		return fmt.Errorf("postgres: upsert collection %s: %w", c.ID, err)
	}
	return nil
}

// GetByID retrieves a collection with its cached aggregates.
func (s *CollectionStore) GetByID(ctx context.Context, id string) (domain.Collection, error) {
	var c domain.Collection
	var floorValue, topBuyValue *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, contract, name,
		       floor_sell_id, floor_sell_value::text,
		       top_buy_id, top_buy_value::text,
		       royalty_bps, royalty_recipients, created_at, updated_at
		FROM collections WHERE id = $1`, id,
	).Scan(&c.ID, &c.Contract, &c.Name,
		&c.FloorSellID, &floorValue,
		&c.TopBuyID, &topBuyValue,
		&c.RoyaltyBps, &c.RoyaltyRecipients, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Collection{}, domain.ErrNotFound
		}
		return domain.Collection{}, fmt.Errorf("postgres: get collection %s: %w", id, err)
	}

	if floorValue != nil {
		d, err := decimal.NewFromString(*floorValue)
		if err != nil {
			return domain.Collection{}, fmt.Errorf("postgres: parse collection floor %q: %w", *floorValue, err)
		}
		c.FloorSellValue = &d
	}
	if topBuyValue != nil {
		d, err := decimal.NewFromString(*topBuyValue)
		if err != nil {
			return domain.Collection{}, fmt.Errorf("postgres: parse collection top buy %q: %w", *topBuyValue, err)
		}
		c.TopBuyValue = &d
	}
	return c, nil
}

// refreshCollectionFloorSQL aggregates the collection floor from the already
// reconciled token-level caches, one hop below. Same compare-and-write
// discipline as the token refresh.
const refreshCollectionFloorSQL = `
WITH best AS (
    SELECT t.floor_sell_id AS id, t.floor_sell_value AS price
    FROM tokens t
    WHERE t.collection_id = $1 AND t.floor_sell_id IS NOT NULL
    ORDER BY t.floor_sell_value ASC
    LIMIT 1
),
b AS (
    SELECT (SELECT id FROM best) AS order_id,
           (SELECT price FROM best) AS price
),
updated AS (
    UPDATE collections c
    SET floor_sell_id = b.order_id,
        floor_sell_value = b.price,
        updated_at = NOW()
    FROM b, collections prev
    WHERE c.id = $1
      AND prev.id = c.id
      AND (c.floor_sell_id IS DISTINCT FROM b.order_id
        OR c.floor_sell_value IS DISTINCT FROM b.price)
    RETURNING c.floor_sell_id, c.floor_sell_value, prev.floor_sell_value AS previous_value
)
INSERT INTO collection_floor_sell_events
    (collection_id, order_id, price, previous_price, kind,
     tx_hash, tx_timestamp, log_index, block_hash)
SELECT $1, u.floor_sell_id, u.floor_sell_value, u.previous_value, $2,
       $3, $4, $5, $6
FROM updated u
RETURNING id, order_id, price::text, previous_price::text, created_at`

// RefreshFloorSell recomputes the collection-level floor cache.
func (s *CollectionStore) RefreshFloorSell(ctx context.Context, id string, trigger domain.TriggerKind, tx *domain.TxContext) (*domain.CacheChangeEvent, error) {
	return s.refresh(ctx, refreshCollectionFloorSQL, domain.ChangeCollectionFloorSell, id, trigger, tx)
}

// refreshCollectionTopBuySQL aggregates the collection top bid from the
// token-set level caches.
const refreshCollectionTopBuySQL = `
WITH best AS (
    SELECT ts.top_buy_id AS id, ts.top_buy_value AS price
    FROM token_sets ts
    WHERE ts.collection_id = $1 AND ts.top_buy_id IS NOT NULL
    ORDER BY ts.top_buy_value DESC
    LIMIT 1
),
b AS (
    SELECT (SELECT id FROM best) AS order_id,
           (SELECT price FROM best) AS price
),
updated AS (
    UPDATE collections c
    SET top_buy_id = b.order_id,
        top_buy_value = b.price,
        updated_at = NOW()
    FROM b, collections prev
    WHERE c.id = $1
      AND prev.id = c.id
      AND (c.top_buy_id IS DISTINCT FROM b.order_id
        OR c.top_buy_value IS DISTINCT FROM b.price)
    RETURNING c.top_buy_id, c.top_buy_value, prev.top_buy_value AS previous_value
)
INSERT INTO collection_top_buy_events
    (collection_id, order_id, price, previous_price, kind,
     tx_hash, tx_timestamp, log_index, block_hash)
SELECT $1, u.top_buy_id, u.top_buy_value, u.previous_value, $2,
       $3, $4, $5, $6
FROM updated u
RETURNING id, order_id, price::text, previous_price::text, created_at`

// RefreshTopBuy recomputes the collection-level top-bid cache.
func (s *CollectionStore) RefreshTopBuy(ctx context.Context, id string, trigger domain.TriggerKind, tx *domain.TxContext) (*domain.CacheChangeEvent, error) {
	return s.refresh(ctx, refreshCollectionTopBuySQL, domain.ChangeCollectionTopBuy, id, trigger, tx)
}

func (s *CollectionStore) refresh(ctx context.Context, query string, kind domain.CacheChangeKind, id string, trigger domain.TriggerKind, tx *domain.TxContext) (*domain.CacheChangeEvent, error) {
	txHash, ts, logIndex, blockHash := txArgs(tx)

	var r refreshRow
	err := s.pool.QueryRow(ctx, query,
		id, string(trigger), txHash, ts, logIndex, blockHash,
	).Scan(&r.id, &r.orderID, &r.price, &r.previousPrice, &r.createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: refresh collection cache %s: %w", id, err)
	}

	ev, err := r.toEvent(kind, trigger, tx)
	if err != nil {
		return nil, fmt.Errorf("postgres: refresh collection cache %s: %w", id, err)
	}
	ev.CollectionID = id
	return &ev, nil
}

// Compile-time interface check.
var _ domain.CollectionStore = (*CollectionStore)(nil)
