package postgres

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// txArgs flattens an optional TxContext into the four nullable parameters the
// event-append statements take.
func txArgs(tx *domain.TxContext) (txHash *string, ts *time.Time, logIndex *int64, blockHash *string) {
	if tx == nil {
		return nil, nil, nil, nil
	}
	if tx.TxHash != "" {
		txHash = &tx.TxHash
	}
	if !tx.Timestamp.IsZero() {
		t := tx.Timestamp
		ts = &t
	}
	idx := int64(tx.LogIndex)
	logIndex = &idx
	if tx.BlockHash != "" {
		blockHash = &tx.BlockHash
	}
	return txHash, ts, logIndex, blockHash
}

// refreshRow is the common RETURNING shape of every Refresh* statement.
type refreshRow struct {
	id            int64
	orderID       *string
	price         *string
	previousPrice *string
	createdAt     time.Time
}

// toEvent converts a scanned refresh row into a CacheChangeEvent.
func (r refreshRow) toEvent(kind domain.CacheChangeKind, trigger domain.TriggerKind, tx *domain.TxContext) (domain.CacheChangeEvent, error) {
	ev := domain.CacheChangeEvent{
		ID:        r.id,
		Kind:      kind,
		OrderID:   r.orderID,
		Trigger:   trigger,
		Tx:        tx,
		CreatedAt: r.createdAt,
	}
	if r.price != nil {
		d, err := decimal.NewFromString(*r.price)
		if err != nil {
			return ev, err
		}
		ev.Price = &d
	}
	if r.previousPrice != nil {
		d, err := decimal.NewFromString(*r.previousPrice)
		if err != nil {
			return ev, err
		}
		ev.PreviousPrice = &d
	}
	return ev, nil
}
