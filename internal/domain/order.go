// Package domain defines the canonical order/price model shared by every
// component: orders, token sets, tokens, collections, cache change events,
// on-chain facts, and the store/cache/queue interfaces their implementations
// satisfy.
package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind identifies the exchange protocol an order belongs to. The set is
// closed; protocol handlers are registered per kind and selected at
// classification time.
type OrderKind string

const (
	OrderKindSeaport   OrderKind = "seaport"
	OrderKindZeroExV4  OrderKind = "zeroex-v4"
	OrderKindLooksRare OrderKind = "looksrare"
	OrderKindX2Y2      OrderKind = "x2y2"
)

// Valid reports whether k is a known protocol kind.
func (k OrderKind) Valid() bool {
	switch k {
	case OrderKindSeaport, OrderKindZeroExV4, OrderKindLooksRare, OrderKindX2Y2:
		return true
	}
	return false
}

// Side is the order side.
type Side string

const (
	SideSell Side = "sell"
	SideBuy  Side = "buy"
)

// FillabilityStatus captures whether an order's underlying balance conditions
// currently allow execution, or why they do not.
type FillabilityStatus string

const (
	FillabilityFillable  FillabilityStatus = "fillable"
	FillabilityNoBalance FillabilityStatus = "no-balance"
	FillabilityCancelled FillabilityStatus = "cancelled"
	FillabilityFilled    FillabilityStatus = "filled"
	FillabilityExpired   FillabilityStatus = "expired"
)

// Terminal reports whether the status is terminal. Terminal states are
// monotonic: once entered, no transition leaves them.
func (s FillabilityStatus) Terminal() bool {
	switch s {
	case FillabilityCancelled, FillabilityFilled, FillabilityExpired:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from one fillability status
// to another. Transitions out of terminal states are never allowed;
// no-balance is recoverable.
func CanTransition(from, to FillabilityStatus) bool {
	if from == to {
		return false
	}
	return !from.Terminal()
}

// ApprovalStatus captures whether the on-chain spending/transfer approval an
// order depends on currently exists.
type ApprovalStatus string

const (
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalNoApproval ApprovalStatus = "no-approval"
)

// Order is the canonical normalized order row. Its identity is the
// protocol-specific deterministic hash, so re-ingesting the same order is a
// natural no-op. Orders are never deleted, only status-transitioned.
type Order struct {
	ID          string // protocol-specific deterministic hash, 0x-prefixed
	Kind        OrderKind
	Side        Side
	Fillability FillabilityStatus
	Approval    ApprovalStatus

	TokenSetID string
	Maker      string
	Taker      string // zero address / empty for open orders

	RawPrice *big.Int        // price in raw currency units
	Price    decimal.Decimal // price normalized to the settlement currency
	Value    decimal.Decimal // price net of fees, used for top-bid ranking
	Currency string

	ValidFrom  time.Time
	ValidUntil time.Time // zero means no expiry

	QuantityRemaining int64
	Nonce             uint64
	FeeBps            int
	MissingRoyaltyBps int
	Source            string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the order is currently executable. Active is
// derived, never stored: fillable and approved at the same time.
func (o Order) IsActive() bool {
	return o.Fillability == FillabilityFillable && o.Approval == ApprovalApproved
}

// IsOpen reports whether the order has no taker restriction.
func (o Order) IsOpen() bool {
	return o.Taker == "" || o.Taker == "0x0000000000000000000000000000000000000000"
}

// IsExpired reports whether the order's validity interval has passed at t.
func (o Order) IsExpired(t time.Time) bool {
	return !o.ValidUntil.IsZero() && o.ValidUntil.Before(t)
}
