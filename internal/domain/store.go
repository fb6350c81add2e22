package domain

import (
	"context"
	"io"
	"time"
)

// StatusChange describes one effective order status transition. Mutating
// order-store operations return the changes that actually took effect so the
// caller can enqueue exactly one reconciliation per affected token set;
// re-delivery of the same fact produces no changes and therefore no jobs.
type StatusChange struct {
	OrderID     string
	TokenSetID  string
	Side        Side
	Fillability FillabilityStatus
	Approval    ApprovalStatus
}

// OrderStore persists canonical orders.
type OrderStore interface {
	// Insert persists a new order. It returns ErrAlreadyExists when an order
	// with the same deterministic id is already present (idempotent
	// re-ingestion).
	Insert(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	// GetByMakerNonce looks an order up by (kind, maker, nonce) -- the
	// fallback used when a fill log omits the order identity.
	GetByMakerNonce(ctx context.Context, kind OrderKind, maker string, nonce uint64) (Order, error)

	// UpdateStatus transitions the order's fillability/approval pair. The
	// update is guarded so it only takes effect when the stored pair differs
	// and the current fillability is not terminal; a nil change means no-op.
	UpdateStatus(ctx context.Context, id string, f FillabilityStatus, a ApprovalStatus) (*StatusChange, error)
	// Fill decrements quantity_remaining by amount and transitions the order
	// to filled when it reaches zero.
	Fill(ctx context.Context, id string, amount int64) (*StatusChange, error)
	// CancelByNonceRange cancels every active order of the maker with a nonce
	// strictly below minNonce (bulk/maker cancellation).
	CancelByNonceRange(ctx context.Context, kind OrderKind, maker string, minNonce uint64) ([]StatusChange, error)
	// InvalidateByNonce cancels (or restores to fillable) the maker's orders
	// at exactly the given nonce.
	InvalidateByNonce(ctx context.Context, kind OrderKind, maker string, nonce uint64, restore bool) ([]StatusChange, error)
	// ExpireBefore transitions every active order whose valid_until has
	// passed to expired.
	ExpireBefore(ctx context.Context, cutoff time.Time) ([]StatusChange, error)
	// ListRecoverable returns orders parked in a recoverable status
	// (no-balance / no-approval) for periodic revalidation.
	ListRecoverable(ctx context.Context, limit int) ([]Order, error)
}

// TokenStore persists tokens and owns the token-level floor-sell cache.
type TokenStore interface {
	Upsert(ctx context.Context, t Token) error
	GetByID(ctx context.Context, contract, tokenID string) (Token, error)

	// RefreshFloorSell recomputes the token's floor-sell pointer in a single
	// atomic compare-and-write statement. It returns the appended cache
	// change event when the pointer actually changed, or nil when the
	// recompute was a no-op. Concurrent refreshes of the same token converge
	// to the same final value regardless of interleaving.
	RefreshFloorSell(ctx context.Context, contract, tokenID string, trigger TriggerKind, tx *TxContext) (*CacheChangeEvent, error)
}

// TokenSetStore persists token sets and owns the set-level top-buy cache.
type TokenSetStore interface {
	// Upsert persists the set if absent. Token sets are immutable by content
	// hash, so conflicting upserts are no-ops.
	Upsert(ctx context.Context, ts TokenSet) error
	GetByID(ctx context.Context, id string) (TokenSet, error)
	// TokensOf enumerates the (contract, token id) members of the set.
	TokensOf(ctx context.Context, id string) ([]Token, error)
	// CollectionOf derives the owning collection id from the set's own
	// metadata. It must keep working after the last order against the set is
	// gone, so a real zeroing-out can still cascade.
	CollectionOf(ctx context.Context, id string) (string, error)

	// RefreshTopBuy is the buy-side counterpart of RefreshFloorSell, keyed by
	// token set and considering only open (unrestricted-taker) bids.
	RefreshTopBuy(ctx context.Context, id string, trigger TriggerKind, tx *TxContext) (*CacheChangeEvent, error)
}

// CollectionStore persists collections and owns the aggregate caches.
type CollectionStore interface {
	Upsert(ctx context.Context, c Collection) error
	GetByID(ctx context.Context, id string) (Collection, error)

	RefreshFloorSell(ctx context.Context, id string, trigger TriggerKind, tx *TxContext) (*CacheChangeEvent, error)
	RefreshTopBuy(ctx context.Context, id string, trigger TriggerKind, tx *TxContext) (*CacheChangeEvent, error)
}

// BlockStore persists synced block metadata.
type BlockStore interface {
	// Upsert persists the block keyed by (number, hash); re-syncing the same
	// block is idempotent.
	Upsert(ctx context.Context, b Block) error
	GetByNumber(ctx context.Context, number uint64) (Block, error)
	// Delete removes the block row at (number, hash).
	Delete(ctx context.Context, number uint64, hash string) error
	// DeleteDerived removes every derived event row tied to the given block
	// hash: fill events, cancel events, and cache change events. Used when an
	// orphaned block is detected.
	DeleteDerived(ctx context.Context, hash string) error
}

// FactStore persists the raw on-chain fact log (fills and cancels) keyed by
// block hash so reorg cleanup can remove them wholesale. Inserts are
// conflict-free on (tx hash, log index); only the facts that were actually
// new are returned, which is what makes applying them exactly-once-effective
// under at-least-once delivery.
type FactStore interface {
	InsertFills(ctx context.Context, fills []Fill) ([]Fill, error)
	InsertCancels(ctx context.Context, cancels []Cancel) ([]Cancel, error)
	// ListTokenSetsByBlock resolves the token sets touched by the facts
	// recorded under the block hash, consulted before reorg cleanup so the
	// affected caches can be re-reconciled.
	ListTokenSetsByBlock(ctx context.Context, blockHash string) ([]string, error)
}

// CacheEventStore provides bulk read/cleanup access to the append-only cache
// change log. Appends happen inside the Refresh* statements, not here.
type CacheEventStore interface {
	ListBefore(ctx context.Context, kind CacheChangeKind, before time.Time, limit int) ([]CacheChangeEvent, error)
	DeleteBefore(ctx context.Context, kind CacheChangeKind, before time.Time) (int64, error)
}

// BlobWriter uploads objects to blob storage. Used by the event archiver to
// ship aged cache change events out of the hot store.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// NonceStore tracks each maker's protocol-scoped master nonce, consulted by
// protocol handlers when reconstructing order hashes from calldata.
type NonceStore interface {
	GetMasterNonce(ctx context.Context, kind OrderKind, maker string) (uint64, error)
	SetMasterNonce(ctx context.Context, kind OrderKind, maker string, nonce uint64) error
}
