package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// Reconciler recomputes the derived price caches for one token set at a time.
// Correctness lives in the stores' single-statement compare-and-writes;
// concurrent reconciliations of the same key converge to the same final
// state, so everything here is free to race.
type Reconciler struct {
	tokens      domain.TokenStore
	sets        domain.TokenSetStore
	collections domain.CollectionStore
	locks       domain.LockManager
	bus         domain.EventBus
	logger      *slog.Logger
}

// NewReconciler wires a Reconciler.
func NewReconciler(tokens domain.TokenStore, sets domain.TokenSetStore, collections domain.CollectionStore, locks domain.LockManager, bus domain.EventBus, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		tokens:      tokens,
		sets:        sets,
		collections: collections,
		locks:       locks,
		bus:         bus,
		logger:      logger.With("component", "reconciler"),
	}
}

// HandleJob adapts the reconciler to the task queue.
func (r *Reconciler) HandleJob(ctx context.Context, job domain.Job) error {
	var p JobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("reconcile: decode job %s: %w", job.ID, err)
	}
	return r.ReconcileTokenSet(ctx, p.TokenSetID, p.Trigger, p.Tx)
}

// ReconcileTokenSet recomputes the sell-side floor of every token in the set
// and the buy-side top bid of the set itself, cascading to the collection
// aggregates whenever something changed. A recompute that changes nothing
// stops the propagation, which is what keeps the fan-out bounded.
func (r *Reconciler) ReconcileTokenSet(ctx context.Context, tokenSetID string, trigger domain.TriggerKind, tx *domain.TxContext) error {
	collectionID, err := r.sets.CollectionOf(ctx, tokenSetID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		// The set rows may be gone (reorg cleanup, pruning) while the
		// collection aggregates still point at vanished orders. Every
		// canonical set id embeds the owning contract, so the zero-out
		// can still run.
		contract, ok := domain.OwningContract(tokenSetID)
		if !ok {
			r.logger.Warn("unparseable token set id, nothing to reconcile", "token_set", tokenSetID)
			return nil
		}
		return r.reconcileCollection(ctx, contract, trigger, tx)
	}

	dirty := false

	// Sell side: each member token owns its floor pointer.
	tokens, err := r.sets.TokensOf(ctx, tokenSetID)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		ev, err := r.tokens.RefreshFloorSell(ctx, t.Contract, t.TokenID, trigger, tx)
		if err != nil {
			return err
		}
		if ev != nil {
			ev.CollectionID = collectionID
			r.bus.Publish(ctx, *ev)
			dirty = true
		}
	}

	// Buy side: the set owns its top-bid pointer.
	ev, err := r.sets.RefreshTopBuy(ctx, tokenSetID, trigger, tx)
	if err != nil {
		return err
	}
	if ev != nil {
		ev.CollectionID = collectionID
		r.bus.Publish(ctx, *ev)
		dirty = true
	}

	// Revalidation and reorg triggers force the aggregate recompute even when
	// the per-token pass saw nothing: the last qualifying order may have
	// disappeared together with its rows, and the zeroed collection cache
	// still has to be recorded.
	if !dirty && trigger != domain.TriggerRevalidation && trigger != domain.TriggerReorg {
		return nil
	}

	return r.reconcileCollection(ctx, collectionID, trigger, tx)
}

// reconcileCollection recomputes both collection aggregates under the storm
// control locks.
func (r *Reconciler) reconcileCollection(ctx context.Context, collectionID string, trigger domain.TriggerKind, tx *domain.TxContext) error {
	run, err := r.acquireCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}
	defer run()

	floorEv, err := r.collections.RefreshFloorSell(ctx, collectionID, trigger, tx)
	if err != nil {
		return err
	}
	if floorEv != nil {
		r.bus.Publish(ctx, *floorEv)
	}

	topEv, err := r.collections.RefreshTopBuy(ctx, collectionID, trigger, tx)
	if err != nil {
		return err
	}
	if topEv != nil {
		r.bus.Publish(ctx, *topEv)
	}
	return nil
}
