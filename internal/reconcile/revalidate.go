package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

const (
	collectionLockTTL = 30 * time.Second
	requestedLockTTL  = 30 * time.Second
)

func collectionLockKey(collectionID string) string {
	return fmt.Sprintf("reconcile-lock:%s", collectionID)
}

func requestedLockKey(collectionID string) string {
	return fmt.Sprintf("reval-requested:%s", collectionID)
}

// acquireCollection implements the two-stage storm control around collection
// aggregate recomputes. It returns a non-nil release function when the caller
// should proceed; nil means another worker already covers this collection
// (either actively recomputing or queued behind a deferral marker) and the
// caller exits as a no-op.
func (r *Reconciler) acquireCollection(ctx context.Context, collectionID string) (func(), error) {
	unlock, err := r.locks.Acquire(ctx, collectionLockKey(collectionID), collectionLockTTL)
	if err == nil {
		return unlock, nil
	}
	if !errors.Is(err, domain.ErrLockHeld) {
		return nil, err
	}

	// Someone is recomputing right now. Record one deferral marker; its TTL
	// throttles the log noise while repeated triggers pile up behind the
	// active holder. The next trigger after the holder finishes acquires the
	// main lock normally.
	markUnlock, err := r.locks.Acquire(ctx, requestedLockKey(collectionID), requestedLockTTL)
	if err == nil {
		// Intentionally not released: the marker must outlive this call.
		_ = markUnlock
		r.logger.Info("collection recompute deferred", "collection", collectionID)
		return nil, nil
	}
	if errors.Is(err, domain.ErrLockHeld) {
		return nil, nil
	}
	return nil, err
}
