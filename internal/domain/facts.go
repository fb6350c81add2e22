package domain

import "math/big"

// Fill is an on-chain order execution observed by a protocol handler. OrderID
// may have been read directly from the log, reconstructed from calldata, or
// resolved by a nonce lookup; handlers record which orders filled, ingestion
// applies the status transitions.
type Fill struct {
	OrderID  string
	Kind     OrderKind
	Side     Side
	Maker    string
	Taker    string
	Contract string
	TokenID  string
	Amount   int64
	RawPrice *big.Int
	Currency string
	Tx       TxContext
}

// Cancel is a single-order on-chain cancellation.
type Cancel struct {
	OrderID string
	Kind    OrderKind
	Tx      TxContext
}

// BulkCancel invalidates every order of a maker below a minimum nonce, the
// on-chain effect of a "cancel all"/counter-increment call.
type BulkCancel struct {
	Kind     OrderKind
	Maker    string
	MinNonce uint64
	Tx       TxContext
}

// NonceChange invalidates (or restores) the orders a maker placed at a single
// nonce value.
type NonceChange struct {
	Kind     OrderKind
	Maker    string
	Nonce    uint64
	Restored bool
	Tx       TxContext
}

// ConfigChange records a protocol-level fee/royalty/whitelist update. It only
// affects validation of future orders, so it carries no order reference.
type ConfigChange struct {
	Kind   OrderKind
	Detail string
	Tx     TxContext
}

// OnChainFacts accumulates the normalized facts extracted from one
// transaction's event batch. Handlers append; they never write stores
// directly. Ingestion consumes the accumulator transactionally.
type OnChainFacts struct {
	Fills         []Fill
	Cancels       []Cancel
	BulkCancels   []BulkCancel
	NonceChanges  []NonceChange
	ConfigChanges []ConfigChange
}

// Empty reports whether no facts were extracted.
func (f *OnChainFacts) Empty() bool {
	return len(f.Fills) == 0 && len(f.Cancels) == 0 && len(f.BulkCancels) == 0 &&
		len(f.NonceChanges) == 0 && len(f.ConfigChanges) == 0
}

func (f *OnChainFacts) AddFill(fill Fill)            { f.Fills = append(f.Fills, fill) }
func (f *OnChainFacts) AddCancel(c Cancel)           { f.Cancels = append(f.Cancels, c) }
func (f *OnChainFacts) AddBulkCancel(c BulkCancel)   { f.BulkCancels = append(f.BulkCancels, c) }
func (f *OnChainFacts) AddNonceChange(n NonceChange) { f.NonceChanges = append(f.NonceChanges, n) }
func (f *OnChainFacts) AddConfigChange(c ConfigChange) {
	f.ConfigChanges = append(f.ConfigChanges, c)
}
