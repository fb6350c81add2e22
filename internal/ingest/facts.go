package ingest

import (
	"context"
	"errors"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/reconcile"
)

// ApplyFacts applies one transaction batch's extracted on-chain facts to the
// order store and enqueues a reconciliation for every token set whose status
// picture actually changed. The fact log insert dedups on (tx hash, log
// index), so a re-delivered block applies nothing twice: no fact, no
// transition, no job.
func (s *Service) ApplyFacts(ctx context.Context, facts *domain.OnChainFacts) error {
	if facts.Empty() {
		return nil
	}

	newFills, err := s.facts.InsertFills(ctx, facts.Fills)
	if err != nil {
		return err
	}
	for _, fill := range newFills {
		change, err := s.orders.Fill(ctx, fill.OrderID, fill.Amount)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Debug("fill for untracked order", "order", fill.OrderID, "tx", fill.Tx.TxHash)
				continue
			}
			return err
		}
		if err := s.enqueueChanges(ctx, changeSlice(change), domain.TriggerSale, &fill.Tx); err != nil {
			return err
		}
	}

	newCancels, err := s.facts.InsertCancels(ctx, facts.Cancels)
	if err != nil {
		return err
	}
	for _, cancel := range newCancels {
		change, err := s.cancelOrder(ctx, cancel.OrderID)
		if err != nil {
			return err
		}
		if err := s.enqueueChanges(ctx, changeSlice(change), domain.TriggerCancel, &cancel.Tx); err != nil {
			return err
		}
	}

	for _, bulk := range facts.BulkCancels {
		changes, err := s.orders.CancelByNonceRange(ctx, bulk.Kind, bulk.Maker, bulk.MinNonce)
		if err != nil {
			return err
		}
		if err := s.nonces.SetMasterNonce(ctx, bulk.Kind, bulk.Maker, bulk.MinNonce); err != nil {
			return err
		}
		if err := s.enqueueChanges(ctx, changes, domain.TriggerCancel, &bulk.Tx); err != nil {
			return err
		}
	}

	for _, nc := range facts.NonceChanges {
		changes, err := s.orders.InvalidateByNonce(ctx, nc.Kind, nc.Maker, nc.Nonce, nc.Restored)
		if err != nil {
			return err
		}
		trigger := domain.TriggerCancel
		if nc.Restored {
			trigger = domain.TriggerReorg
		}
		if err := s.enqueueChanges(ctx, changes, trigger, &nc.Tx); err != nil {
			return err
		}
	}

	for _, cc := range facts.ConfigChanges {
		s.logger.Info("protocol config change observed",
			"kind", cc.Kind, "detail", cc.Detail, "tx", cc.Tx.TxHash)
	}
	return nil
}

// cancelOrder transitions the order to cancelled, preserving its approval
// flag. An untracked or already-terminal order is a no-op.
func (s *Service) cancelOrder(ctx context.Context, orderID string) (*domain.StatusChange, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("cancel for untracked order", "order", orderID)
			return nil, nil
		}
		return nil, err
	}
	return s.orders.UpdateStatus(ctx, orderID, domain.FillabilityCancelled, order.Approval)
}

// enqueueChanges fans each effective status change out as one reconciliation
// job keyed by the affected token set.
func (s *Service) enqueueChanges(ctx context.Context, changes []domain.StatusChange, trigger domain.TriggerKind, tx *domain.TxContext) error {
	for _, change := range changes {
		job, err := reconcile.NewJob(change.TokenSetID, trigger, tx)
		if err != nil {
			return err
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func changeSlice(change *domain.StatusChange) []domain.StatusChange {
	if change == nil {
		return nil
	}
	return []domain.StatusChange{*change}
}
