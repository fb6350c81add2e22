package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TriggerKind tags a cache change with the order mutation that caused it.
type TriggerKind string

const (
	TriggerNewOrder     TriggerKind = "new-order"
	TriggerCancel       TriggerKind = "cancel"
	TriggerSale         TriggerKind = "sale"
	TriggerReprice      TriggerKind = "reprice"
	TriggerRevalidation TriggerKind = "revalidation"
	TriggerExpiry       TriggerKind = "expiry"
	TriggerReorg        TriggerKind = "reorg"
)

// TxContext carries optional transaction attribution for a cache change.
type TxContext struct {
	TxHash    string
	Timestamp time.Time
	LogIndex  uint
	BlockHash string
}

// CacheChangeKind identifies which derived cache a change event belongs to.
type CacheChangeKind string

const (
	ChangeTokenFloorSell      CacheChangeKind = "token-floor-sell"
	ChangeTokenSetTopBuy      CacheChangeKind = "token-set-top-buy"
	ChangeCollectionFloorSell CacheChangeKind = "collection-floor-sell"
	ChangeCollectionTopBuy    CacheChangeKind = "collection-top-buy"
)

// CacheChangeEvent is one immutable row of the cache transition log. It is
// appended only when a recompute produced a materially different cached value
// and is never mutated afterwards. The log is eventually consistent: under
// heavy concurrency the append order may not match chronological order.
type CacheChangeEvent struct {
	ID   int64
	Kind CacheChangeKind

	// Exactly one of the following scopes is populated depending on Kind.
	Contract     string
	TokenID      string
	TokenSetID   string
	CollectionID string

	OrderID       *string
	Price         *decimal.Decimal
	PreviousPrice *decimal.Decimal

	Trigger TriggerKind
	Tx      *TxContext

	CreatedAt time.Time
}

// Zeroed reports whether the event records the cache going empty: the last
// qualifying order disappeared and the pointer was cleared.
func (e CacheChangeEvent) Zeroed() bool {
	return e.OrderID == nil
}
