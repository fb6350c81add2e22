package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking. Locks are ephemeral and TTL
// bound; they exist to reduce redundant recomputation, never to establish
// correctness (the store's atomic compare-and-write does that).
type LockManager interface {
	// Acquire obtains the named lock for at most ttl. It returns ErrLockHeld
	// when another party holds it. The unlock function is safe to call more
	// than once and must be invoked on every exit path.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// Exists reports whether the named lock is currently held. Used for the
	// post-release check that tolerates lock-store replication lag.
	Exists(ctx context.Context, key string) (bool, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// WatermarkStore tracks per-chain sync progress in the key-value store. The
// watermark is advanced only after a block is fully persisted, so crash
// recovery simply re-executes the same height.
type WatermarkStore interface {
	Get(ctx context.Context, key string) (uint64, bool, error)
	Set(ctx context.Context, key string, value uint64) error
}
