package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/infrastructure/repository/reperrors"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/metrics"
)

// ListPendingPurchases returns the buyer's pending purchases after a
// best-effort reconciliation pass: pending records older than the configured
// TTL (abandoned checkouts) and pending records whose target was meanwhile
// purchased through another record are deleted. Cleanup errors degrade to
// returning current state; they never fail the read.
func (s *CheckoutService) ListPendingPurchases(ctx context.Context, buyerID uuid.UUID) ([]domain.Purchase, error) {
	pending, err := s.purchases.ListPendingByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list pending purchases: %w", err)
	}

	kept := pending[:0]
	for i := range pending {
		p := pending[i]
		if s.reconcile(ctx, &p) {
			continue
		}
		kept = append(kept, p)
	}
	return kept, nil
}

// reconcile reports true when the pending purchase was deleted.
func (s *CheckoutService) reconcile(ctx context.Context, p *domain.Purchase) bool {
	stale := s.now().Sub(p.CreatedAt) > s.cfg.PendingTTL

	redundant := false
	if !stale {
		completed, err := s.purchases.HasCompleted(ctx, p.BuyerID, p.TargetID)
		if err != nil {
			s.log.Warn("reconciler could not check for completed purchase",
				slog.String("purchase_id", p.ID.String()),
				slog.Any("error", err),
			)
			return false
		}
		redundant = completed
	}

	if !stale && !redundant {
		return false
	}

	// guarded delete first: it both re-checks pending (the purchase may have
	// been paid since the list was read) and commits the cleanup, so the seat
	// is never released for a record that survived
	if err := s.purchases.DeletePending(ctx, p.ID); err != nil {
		if errors.Is(err, reperrors.ErrConflict) {
			// no longer pending; drop it from the listing untouched
			return true
		}
		s.log.Warn("reconciler could not delete pending purchase",
			slog.String("purchase_id", p.ID.String()),
			slog.Any("error", err),
		)
		return false
	}

	if p.SessionID != "" {
		s.expireSessionBestEffort(ctx, p.SessionID)
	}
	if p.IsClassRep {
		if err := s.catalog.ReleaseClassRepSlot(ctx, p.TargetID); err != nil {
			s.log.Warn("reconciler could not release class-rep slot",
				slog.String("purchase_id", p.ID.String()),
				slog.Any("error", err),
			)
		}
	}

	metrics.PendingReconciled.Inc()
	reason := "stale"
	if redundant {
		reason = "redundant"
	}
	s.log.Info("reconciled pending purchase",
		slog.String("purchase_id", p.ID.String()),
		slog.String("reason", reason),
	)
	return true
}
