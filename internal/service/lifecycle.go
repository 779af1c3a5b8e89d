package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avast/retry-go"
	"github.com/google/uuid"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/infrastructure/repository/reperrors"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/lib/lock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/metrics"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/service/serverrors"
)

// Reasons for refund ineligibility, one per rule.
const (
	ReasonRefundNotCompleted = "only completed purchases can be refunded"
	ReasonRefundInProgress   = "a refund is already in progress for this purchase"
	ReasonRefundAlreadyDone  = "this purchase has already been refunded"
	ReasonRefundWindowOver   = "the refund window for this purchase has expired"
)

// Eligibility is the answer to a refund-eligibility check.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// CancelPurchase hard-deletes a pending purchase owned by the requester.
// A cancelled class-rep purchase releases its seat, and the target becomes
// re-purchasable immediately.
func (s *CheckoutService) CancelPurchase(ctx context.Context, buyerID, purchaseID uuid.UUID) error {
	purchase, err := s.ownedPurchase(ctx, buyerID, purchaseID)
	if err != nil {
		return err
	}
	if purchase.Status != domain.StatusPending {
		return serverrors.New(serverrors.KindBusinessRule, "only pending purchases can be cancelled")
	}

	err = s.locks.WithLock(ctx, checkoutKey(buyerID, purchase.TargetID), func(ctx context.Context) error {
		// the guarded delete re-checks pending inside the lock: a webhook
		// may have completed the purchase while cancel was waiting, and a
		// paid purchase must never be deleted. It is also the commit point:
		// the seat is released only once the record is actually gone, so a
		// failed delete cannot be followed by a second release on retry.
		if err := s.purchases.DeletePending(ctx, purchase.ID); err != nil {
			if errors.Is(err, reperrors.ErrConflict) {
				return serverrors.New(serverrors.KindBusinessRule, "only pending purchases can be cancelled")
			}
			return fmt.Errorf("delete pending purchase: %w", err)
		}

		if purchase.SessionID != "" {
			s.expireSessionBestEffort(ctx, purchase.SessionID)
		}
		if purchase.IsClassRep {
			if err := s.catalog.ReleaseClassRepSlot(ctx, purchase.TargetID); err != nil {
				s.log.Error("failed to release class-rep slot of cancelled purchase",
					slog.String("purchase_id", purchase.ID.String()),
					slog.Any("error", err),
				)
			}
		}
		return nil
	})
	if errors.Is(err, lock.ErrTimeout) {
		return serverrors.Wrap(serverrors.KindConcurrency, "purchase is busy, try again shortly", err)
	}
	if err != nil {
		var svcErr *serverrors.Error
		if errors.As(err, &svcErr) {
			return err
		}
		return fmt.Errorf("cancel purchase: %w", err)
	}

	s.log.Info("pending purchase cancelled",
		slog.String("order_number", purchase.OrderNumber),
		slog.String("buyer_id", buyerID.String()),
	)
	s.publish(ctx, domain.PurchaseEvent{
		Type:        domain.EventPurchaseCancelled,
		OrderNumber: purchase.OrderNumber,
		BuyerID:     purchase.BuyerID.String(),
		TargetID:    purchase.TargetID.String(),
		AmountCents: purchase.FinalPriceCents,
		OccurredAt:  s.now().UTC(),
	})
	return nil
}

// RetryPurchase discards the old payment session of a pending purchase and
// requests a fresh one. The price snapshot is reused as-is: prices are never
// recomputed on retry.
func (s *CheckoutService) RetryPurchase(ctx context.Context, buyerID, purchaseID uuid.UUID) (*CheckoutResult, error) {
	purchase, err := s.ownedPurchase(ctx, buyerID, purchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.Status != domain.StatusPending {
		return nil, serverrors.New(serverrors.KindBusinessRule, "only pending purchases can be retried")
	}

	completed, err := s.purchases.HasCompleted(ctx, buyerID, purchase.TargetID)
	if err != nil {
		return nil, fmt.Errorf("check completed purchase: %w", err)
	}
	if completed {
		return nil, serverrors.New(serverrors.KindBusinessRule, "you have already purchased this item")
	}

	target, err := s.catalog.FindTarget(ctx, purchase.Type, purchase.TargetID)
	if err != nil && !errors.Is(err, reperrors.ErrNotFound) {
		return nil, fmt.Errorf("load target: %w", err)
	}
	description := ""
	if target != nil {
		description = target.Title
	}

	var result *CheckoutResult
	lockErr := s.locks.WithLock(ctx, checkoutKey(buyerID, purchase.TargetID), func(ctx context.Context) error {
		if purchase.SessionID != "" {
			s.expireSessionBestEffort(ctx, purchase.SessionID)
		}

		session, err := s.createSessionWithRetry(ctx, CreateSessionRequest{
			BuyerID:     buyerID,
			OrderNumber: purchase.OrderNumber,
			Description: description,
			AmountCents: purchase.FinalPriceCents,
			Metadata: map[string]string{
				"purchase_id":   purchase.ID.String(),
				"purchase_type": string(purchase.Type),
				"target_id":     purchase.TargetID.String(),
			},
		})
		if err != nil {
			return serverrors.Wrap(serverrors.KindProvider, "payment session could not be created", err)
		}

		if err := s.purchases.UpdateSession(ctx, purchase.ID, session.ID, session.PaymentIntentID); err != nil {
			s.expireSessionBestEffort(ctx, session.ID)
			return fmt.Errorf("attach session to purchase: %w", err)
		}
		purchase.SessionID = session.ID
		purchase.PaymentIntentID = session.PaymentIntentID
		result = &CheckoutResult{Purchase: purchase, SessionID: session.ID, SessionURL: session.URL}
		return nil
	})
	if errors.Is(lockErr, lock.ErrTimeout) {
		return nil, serverrors.Wrap(serverrors.KindConcurrency, "purchase is busy, try again shortly", lockErr)
	}
	if lockErr != nil {
		return nil, lockErr
	}

	s.log.Info("payment session reissued",
		slog.String("order_number", purchase.OrderNumber),
		slog.String("session_id", purchase.SessionID),
	)
	return result, nil
}

// RefundEligibility computes whether a purchase can enter the refund flow,
// with a distinct reason per failing rule.
func (s *CheckoutService) RefundEligibility(ctx context.Context, buyerID, purchaseID uuid.UUID) (Eligibility, error) {
	purchase, err := s.ownedPurchase(ctx, buyerID, purchaseID)
	if err != nil {
		return Eligibility{}, err
	}
	return s.eligibility(purchase), nil
}

func (s *CheckoutService) eligibility(purchase *domain.Purchase) Eligibility {
	switch purchase.Status {
	case domain.StatusRefundProcessing:
		return Eligibility{Reason: ReasonRefundInProgress}
	case domain.StatusRefunded:
		return Eligibility{Reason: ReasonRefundAlreadyDone}
	case domain.StatusCompleted:
	default:
		return Eligibility{Reason: ReasonRefundNotCompleted}
	}
	if s.now().After(purchase.PurchaseDate.Add(s.cfg.RefundWindow)) {
		return Eligibility{Reason: ReasonRefundWindowOver}
	}
	return Eligibility{Eligible: true}
}

// InitiateRefund drives completed -> refund_processing -> refunded or
// refund_failed. The failure transition is persisted before any notification
// attempt, so a buyer is never left stuck in refund_processing.
func (s *CheckoutService) InitiateRefund(ctx context.Context, buyerID, purchaseID uuid.UUID) error {
	purchase, err := s.ownedPurchase(ctx, buyerID, purchaseID)
	if err != nil {
		return err
	}

	if e := s.eligibility(purchase); !e.Eligible {
		return serverrors.New(serverrors.KindBusinessRule, e.Reason)
	}
	if purchase.PaymentIntentID == "" {
		return serverrors.New(serverrors.KindBusinessRule, "purchase has no charge to refund")
	}

	if err := s.purchases.UpdateStatus(ctx, purchase.ID, domain.StatusCompleted, domain.StatusRefundProcessing); err != nil {
		if errors.Is(err, reperrors.ErrConflict) {
			return serverrors.New(serverrors.KindConcurrency, "refund is already being processed")
		}
		return fmt.Errorf("start refund: %w", err)
	}
	metrics.RefundsInitiated.Inc()

	refundID, err := s.refundWithRetry(ctx, purchase.PaymentIntentID, purchase.FinalPriceCents)
	if err != nil {
		if stErr := s.purchases.UpdateStatus(ctx, purchase.ID, domain.StatusRefundProcessing, domain.StatusRefundFailed); stErr != nil {
			s.log.Error("failed to persist refund_failed state",
				slog.String("purchase_id", purchase.ID.String()),
				slog.Any("error", stErr),
			)
		}
		metrics.RefundsFailed.Inc()
		s.publish(ctx, domain.PurchaseEvent{
			Type:        domain.EventRefundFailed,
			OrderNumber: purchase.OrderNumber,
			BuyerID:     purchase.BuyerID.String(),
			TargetID:    purchase.TargetID.String(),
			AmountCents: purchase.FinalPriceCents,
			OccurredAt:  s.now().UTC(),
		})
		return serverrors.Wrap(serverrors.KindProvider, "refund could not be processed", err)
	}

	if err := s.purchases.UpdateStatus(ctx, purchase.ID, domain.StatusRefundProcessing, domain.StatusRefunded); err != nil {
		return fmt.Errorf("finish refund: %w", err)
	}

	s.log.Info("purchase refunded",
		slog.String("order_number", purchase.OrderNumber),
		slog.String("refund_id", refundID),
	)
	s.publish(ctx, domain.PurchaseEvent{
		Type:        domain.EventRefundSucceeded,
		OrderNumber: purchase.OrderNumber,
		BuyerID:     purchase.BuyerID.String(),
		TargetID:    purchase.TargetID.String(),
		AmountCents: purchase.FinalPriceCents,
		OccurredAt:  s.now().UTC(),
	})
	return nil
}

func (s *CheckoutService) refundWithRetry(ctx context.Context, paymentIntentID string, amountCents int64) (string, error) {
	var refundID string
	err := retry.Do(
		func() error {
			var err error
			refundID, err = s.provider.Refund(ctx, paymentIntentID, amountCents)
			return err
		},
		retry.Attempts(s.cfg.ProviderRetry.Attempts),
		retry.Delay(s.cfg.ProviderRetry.Delay),
		retry.MaxDelay(s.cfg.ProviderRetry.MaxDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	return refundID, err
}

func (s *CheckoutService) ownedPurchase(ctx context.Context, buyerID, purchaseID uuid.UUID) (*domain.Purchase, error) {
	purchase, err := s.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, reperrors.ErrNotFound) {
			return nil, serverrors.New(serverrors.KindValidation, "purchase not found")
		}
		return nil, fmt.Errorf("load purchase: %w", err)
	}
	if purchase.BuyerID != buyerID {
		return nil, serverrors.New(serverrors.KindAuthorization, "this purchase belongs to another user")
	}
	return purchase, nil
}
