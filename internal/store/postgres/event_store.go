package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// eventTableSpec maps a cache change kind onto its log table and the subject
// columns identifying what the cached value belongs to.
type eventTableSpec struct {
	table       string
	subjectCols string
}

var eventTables = map[domain.CacheChangeKind]eventTableSpec{
	domain.ChangeTokenFloorSell:      {"token_floor_sell_events", "contract, token_id, '', ''"},
	domain.ChangeTokenSetTopBuy:      {"token_set_top_buy_events", "'', '', token_set_id, ''"},
	domain.ChangeCollectionFloorSell: {"collection_floor_sell_events", "'', '', '', collection_id"},
	domain.ChangeCollectionTopBuy:    {"collection_top_buy_events", "'', '', '', collection_id"},
}

// CacheEventStore implements domain.CacheEventStore using PostgreSQL. It only
// reads and prunes the append-only logs; rows are written by the Refresh*
// statements.
type CacheEventStore struct {
	pool *pgxpool.Pool
}

// NewCacheEventStore creates a new CacheEventStore backed by the given pool.
func NewCacheEventStore(pool *pgxpool.Pool) *CacheEventStore {
	return &CacheEventStore{pool: pool}
}

// ListBefore returns up to limit events of the kind created before the cutoff,
// oldest first. Used by the archiver to page through prunable history.
func (s *CacheEventStore) ListBefore(ctx context.Context, kind domain.CacheChangeKind, before time.Time, limit int) ([]domain.CacheChangeEvent, error) {
	spec, ok := eventTables[kind]
	if !ok {
		return nil, fmt.Errorf("postgres: list events: unknown kind %q", kind)
	}

	query := fmt.Sprintf(`
		SELECT id, %s, order_id, price::text, previous_price::text, kind,
		       tx_hash, tx_timestamp, log_index, block_hash, created_at
		FROM %s
		WHERE created_at < $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`, spec.subjectCols, spec.table)

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s: %w", spec.table, err)
	}
	defer rows.Close()

	var events []domain.CacheChangeEvent
	for rows.Next() {
		var ev domain.CacheChangeEvent
		var price, previousPrice, trigger *string
		var txHash, blockHash *string
		var txTimestamp *time.Time
		var logIndex *int64

		if err := rows.Scan(&ev.ID, &ev.Contract, &ev.TokenID, &ev.TokenSetID, &ev.CollectionID,
			&ev.OrderID, &price, &previousPrice, &trigger,
			&txHash, &txTimestamp, &logIndex, &blockHash, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", spec.table, err)
		}

		ev.Kind = kind
		if trigger != nil {
			ev.Trigger = domain.TriggerKind(*trigger)
		}
		if price != nil {
			d, err := decimal.NewFromString(*price)
			if err != nil {
				return nil, fmt.Errorf("postgres: parse %s price %q: %w", spec.table, *price, err)
			}
			ev.Price = &d
		}
		if previousPrice != nil {
			d, err := decimal.NewFromString(*previousPrice)
			if err != nil {
				return nil, fmt.Errorf("postgres: parse %s price %q: %w", spec.table, *previousPrice, err)
			}
			ev.PreviousPrice = &d
		}
		if txHash != nil || txTimestamp != nil || logIndex != nil || blockHash != nil {
			tc := domain.TxContext{}
			if txHash != nil {
				tc.TxHash = *txHash
			}
			if txTimestamp != nil {
				tc.Timestamp = *txTimestamp
			}
			if logIndex != nil {
				tc.LogIndex = uint(*logIndex)
			}
			if blockHash != nil {
				tc.BlockHash = *blockHash
			}
			ev.Tx = &tc
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list %s: %w", spec.table, err)
	}
	return events, nil
}

// DeleteBefore prunes events of the kind created before the cutoff and
// reports how many rows went away.
func (s *CacheEventStore) DeleteBefore(ctx context.Context, kind domain.CacheChangeKind, before time.Time) (int64, error) {
	spec, ok := eventTables[kind]
	if !ok {
		return 0, fmt.Errorf("postgres: delete events: unknown kind %q", kind)
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, spec.table), before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete %s: %w", spec.table, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.CacheEventStore = (*CacheEventStore)(nil)
