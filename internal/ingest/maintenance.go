package ingest

import (
	"context"
	"time"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// SweepExpired transitions every active order whose validity window has
// passed and enqueues expiry reconciliations. It returns how many orders
// expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	changes, err := s.orders.ExpireBefore(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}
	if err := s.enqueueChanges(ctx, changes, domain.TriggerExpiry, nil); err != nil {
		return 0, err
	}
	s.logger.Info("expiry sweep", "expired", len(changes))
	return len(changes), nil
}

// RevalidateRecoverable re-probes a batch of orders parked in recoverable
// statuses (no-balance, no-approval). Orders whose conditions came back move
// to active again; every effective transition enqueues a revalidation
// reconciliation.
func (s *Service) RevalidateRecoverable(ctx context.Context) (int, error) {
	orders, err := s.orders.ListRecoverable(ctx, s.cfg.RevalidationBatch)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, order := range orders {
		hasBalance, hasApproval, err := s.prober.Probe(ctx, order)
		if err != nil {
			s.logger.Warn("revalidation probe failed", "order", order.ID, "error", err)
			continue
		}

		fillability := domain.FillabilityFillable
		if !hasBalance {
			fillability = domain.FillabilityNoBalance
		}
		approval := domain.ApprovalApproved
		if !hasApproval {
			approval = domain.ApprovalNoApproval
		}
		if fillability == order.Fillability && approval == order.Approval {
			continue
		}

		change, err := s.orders.UpdateStatus(ctx, order.ID, fillability, approval)
		if err != nil {
			return recovered, err
		}
		if change == nil {
			continue
		}
		if err := s.enqueueChanges(ctx, []domain.StatusChange{*change}, domain.TriggerRevalidation, nil); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// MaintenanceLoop runs the expiry sweep and recoverable revalidation on the
// given cadences until the context ends.
func (s *Service) MaintenanceLoop(ctx context.Context, expiryEvery, revalidateEvery time.Duration) error {
	expiry := time.NewTicker(expiryEvery)
	defer expiry.Stop()
	revalidate := time.NewTicker(revalidateEvery)
	defer revalidate.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expiry.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.logger.Error("expiry sweep failed", "error", err)
			}
		case <-revalidate.C:
			if n, err := s.RevalidateRecoverable(ctx); err != nil {
				s.logger.Error("revalidation pass failed", "error", err)
			} else if n > 0 {
				s.logger.Info("revalidation pass", "transitions", n)
			}
		}
	}
}
