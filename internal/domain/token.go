package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Token is a single NFT identified by (contract, token id). It owns a cached
// floor-sell pointer: the best active sell order over any token set that
// contains it. The pointer is derived state; the orders table stays
// authoritative.
type Token struct {
	Contract     string
	TokenID      string
	CollectionID string

	FloorSellID    *string
	FloorSellValue *decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Collection groups tokens under one contract (or a shard of it). Its floor
// and top-bid caches are two hops removed from the orders table and are kept
// eventually consistent by the reconciler's cascade.
type Collection struct {
	ID       string
	Contract string
	Name     string

	FloorSellID    *string
	FloorSellValue *decimal.Decimal
	TopBuyID       *string
	TopBuyValue    *decimal.Decimal

	RoyaltyBps        int
	RoyaltyRecipients []string

	CreatedAt time.Time
	UpdatedAt time.Time
}
