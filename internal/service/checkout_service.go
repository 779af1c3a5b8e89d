package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/infrastructure/repository/reperrors"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/lib/lock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/metrics"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/service/serverrors"
)

type PurchaseRepository interface {
	Create(ctx context.Context, p *domain.Purchase) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Purchase, error)
	FindBySessionID(ctx context.Context, sessionID string) (*domain.Purchase, error)
	FindPending(ctx context.Context, buyerID, targetID uuid.UUID) (*domain.Purchase, error)
	HasCompleted(ctx context.Context, buyerID, targetID uuid.UUID) (bool, error)
	ListPendingByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Purchase, error)
	// DeletePending removes the record only while it is still pending;
	// reperrors.ErrConflict when it changed state (e.g. got paid) concurrently.
	DeletePending(ctx context.Context, id uuid.UUID) error
	// UpdateStatus performs a guarded transition; reperrors.ErrConflict when
	// the record is no longer in the expected from-state.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.PurchaseStatus) error
	UpdateSession(ctx context.Context, id uuid.UUID, sessionID, paymentIntentID string) error
}

type CatalogRepository interface {
	FindTarget(ctx context.Context, typ domain.PurchaseType, id uuid.UUID) (*domain.PurchaseTarget, error)
	// ReserveClassRepSlot atomically increments the counter while it is under
	// the limit; false means the slots are full (no mutation happened).
	ReserveClassRepSlot(ctx context.Context, targetID uuid.UUID) (bool, error)
	ReleaseClassRepSlot(ctx context.Context, targetID uuid.UUID) error
}

type PaymentSession struct {
	ID              string
	URL             string
	PaymentIntentID string
}

type SessionState struct {
	Status          string
	PaymentIntentID string
}

const SessionStatusComplete = "complete"

type CreateSessionRequest struct {
	BuyerID     uuid.UUID
	OrderNumber string
	Description string
	AmountCents int64
	Metadata    map[string]string
}

type PaymentProvider interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*PaymentSession, error)
	RetrieveSession(ctx context.Context, id string) (*SessionState, error)
	ExpireSession(ctx context.Context, id string) error
	Refund(ctx context.Context, paymentIntentID string, amountCents int64) (string, error)
}

type Notifier interface {
	Publish(ctx context.Context, event domain.PurchaseEvent) error
}

type CheckoutService struct {
	cfg       config.Checkout
	purchases PurchaseRepository
	catalog   CatalogRepository
	validator *PromoValidator
	promos    PromoRepository
	provider  PaymentProvider
	notifier  Notifier
	locks     *lock.Manager
	log       *slog.Logger
	now       func() time.Time
}

func NewCheckoutService(
	cfg config.Checkout,
	purchases PurchaseRepository,
	catalog CatalogRepository,
	promos PromoRepository,
	provider PaymentProvider,
	notifier Notifier,
	locks *lock.Manager,
	log *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		cfg:       cfg,
		purchases: purchases,
		catalog:   catalog,
		validator: NewPromoValidator(promos, log),
		promos:    promos,
		provider:  provider,
		notifier:  notifier,
		locks:     locks,
		log:       log,
		now:       time.Now,
	}
}

type CheckoutRequest struct {
	BuyerID    uuid.UUID
	TargetID   uuid.UUID
	Type       domain.PurchaseType
	AsClassRep bool
	PromoCode  string
}

type CheckoutResult struct {
	Purchase   *domain.Purchase
	SessionID  string
	SessionURL string
	Free       bool
}

// CreateCheckout runs the checkout orchestration: local validation first
// (no side effects), then everything from stale-pending reconciliation to
// session creation under the per-(buyer,target) lock with full compensation
// on any failure.
func (s *CheckoutService) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	metrics.CheckoutAttempts.Inc()
	start := s.now()
	defer func() {
		metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
	}()

	if !req.Type.Valid() {
		return nil, serverrors.New(serverrors.KindValidation, "unknown purchase type")
	}

	target, err := s.catalog.FindTarget(ctx, req.Type, req.TargetID)
	if err != nil {
		if errors.Is(err, reperrors.ErrNotFound) {
			return nil, serverrors.New(serverrors.KindValidation, "purchase target not found")
		}
		return nil, fmt.Errorf("load target: %w", err)
	}
	if target.IsFree || target.PriceCents <= 0 {
		return nil, serverrors.New(serverrors.KindBusinessRule, "this item is free and cannot be purchased")
	}
	if target.HasAccess(req.BuyerID) {
		return nil, serverrors.New(serverrors.KindBusinessRule, "you already have access to this item")
	}

	var promo *domain.PromoCode
	if req.PromoCode != "" {
		validation, err := s.validator.Validate(ctx, req.PromoCode, req.BuyerID, target)
		if err != nil {
			return nil, fmt.Errorf("validate promo code: %w", err)
		}
		if !validation.Valid {
			return nil, serverrors.New(serverrors.KindBusinessRule, validation.Reason)
		}
		promo = validation.Code
	}

	completed, err := s.purchases.HasCompleted(ctx, req.BuyerID, req.TargetID)
	if err != nil {
		return nil, fmt.Errorf("check completed purchase: %w", err)
	}
	if completed {
		return nil, serverrors.New(serverrors.KindBusinessRule, "you have already purchased this item")
	}

	var result *CheckoutResult
	err = s.locks.WithLock(ctx, checkoutKey(req.BuyerID, req.TargetID), func(ctx context.Context) error {
		var lockErr error
		result, lockErr = s.checkoutLocked(ctx, req, target, promo)
		return lockErr
	})
	if errors.Is(err, lock.ErrTimeout) {
		metrics.LockTimeouts.Inc()
		return nil, serverrors.Wrap(serverrors.KindConcurrency, "another checkout for this item is in progress, try again shortly", err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkoutLocked is steps 5-9: only runs while holding the (buyer, target)
// lock, and must leave no partial state behind on any error.
func (s *CheckoutService) checkoutLocked(ctx context.Context, req CheckoutRequest, target *domain.PurchaseTarget, promo *domain.PromoCode) (*CheckoutResult, error) {
	if err := s.supersedePending(ctx, req.BuyerID, req.TargetID); err != nil {
		return nil, err
	}

	slotReserved := false
	if req.AsClassRep {
		ok, err := s.catalog.ReserveClassRepSlot(ctx, target.ID)
		if err != nil {
			return nil, fmt.Errorf("reserve class-rep slot: %w", err)
		}
		if !ok {
			return nil, serverrors.New(serverrors.KindBusinessRule, "class representative slots are full")
		}
		slotReserved = true
	}

	releaseSlot := func() {
		if !slotReserved {
			return
		}
		if err := s.catalog.ReleaseClassRepSlot(ctx, target.ID); err != nil {
			s.log.Error("failed to release class-rep slot during rollback",
				slog.String("target_id", target.ID.String()),
				slog.Any("error", err),
			)
		}
	}

	opts := PriceOptions{}
	if req.AsClassRep {
		opts.ClassRepDiscountCents = target.ClassRepDiscountCents
	}
	earlyBird := target.EarlyBirdActive(s.now())
	if earlyBird {
		opts.EarlyBirdDiscountCents = target.EarlyBirdDiscountCents
	}
	if promo != nil {
		switch promo.Discount.Kind {
		case domain.DiscountFixed:
			opts.PromoFixedCents = promo.Discount.AmountCents
		case domain.DiscountPercent:
			opts.PromoPercent = promo.Discount.Percent
		}
	}

	quote, err := ComputeFinalPrice(target.PriceCents, opts, s.cfg.MinChargeCents)
	if err != nil {
		releaseSlot()
		return nil, err
	}

	now := s.now().UTC()
	id := uuid.New()
	purchase := &domain.Purchase{
		ID:                     id,
		OrderNumber:            newOrderNumber(now, id),
		BuyerID:                req.BuyerID,
		TargetID:               target.ID,
		Type:                   target.Type,
		FullPriceCents:         quote.FullPriceCents,
		ClassRepDiscountCents:  quote.ClassRepAppliedCents,
		EarlyBirdDiscountCents: quote.EarlyBirdAppliedCents,
		PromoDiscountCents:     quote.PromoFixedAppliedCents + quote.PromoPercentCents,
		PromoDiscountPercent:   quote.PromoPercent,
		FinalPriceCents:        quote.FinalPriceCents,
		IsClassRep:             req.AsClassRep,
		IsEarlyBird:            earlyBird,
		Status:                 domain.StatusPending,
		PurchaseDate:           now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if promo != nil {
		id := promo.ID
		purchase.PromoCodeID = &id
	}

	if quote.Free() {
		return s.completeFree(ctx, purchase, target, promo, releaseSlot)
	}

	if err := s.createPurchaseWithRetry(ctx, purchase); err != nil {
		releaseSlot()
		return nil, fmt.Errorf("create purchase: %w", err)
	}

	session, err := s.createSessionWithRetry(ctx, CreateSessionRequest{
		BuyerID:     req.BuyerID,
		OrderNumber: purchase.OrderNumber,
		Description: target.Title,
		AmountCents: purchase.FinalPriceCents,
		Metadata: map[string]string{
			"purchase_id":   purchase.ID.String(),
			"purchase_type": string(purchase.Type),
			"target_id":     target.ID.String(),
		},
	})
	if err != nil {
		// no orphaned pending purchase may survive a failed session creation
		if delErr := s.purchases.DeletePending(ctx, purchase.ID); delErr != nil {
			s.log.Error("failed to delete purchase during rollback",
				slog.String("purchase_id", purchase.ID.String()),
				slog.Any("error", delErr),
			)
		}
		releaseSlot()
		return nil, serverrors.Wrap(serverrors.KindProvider, "payment session could not be created", err)
	}

	if err := s.purchases.UpdateSession(ctx, purchase.ID, session.ID, session.PaymentIntentID); err != nil {
		s.expireSessionBestEffort(ctx, session.ID)
		if delErr := s.purchases.DeletePending(ctx, purchase.ID); delErr != nil {
			s.log.Error("failed to delete purchase during rollback",
				slog.String("purchase_id", purchase.ID.String()),
				slog.Any("error", delErr),
			)
		}
		releaseSlot()
		return nil, fmt.Errorf("attach session to purchase: %w", err)
	}
	purchase.SessionID = session.ID
	purchase.PaymentIntentID = session.PaymentIntentID

	s.log.Info("checkout session created",
		slog.String("order_number", purchase.OrderNumber),
		slog.String("buyer_id", req.BuyerID.String()),
		slog.Int64("final_price_cents", purchase.FinalPriceCents),
	)

	return &CheckoutResult{Purchase: purchase, SessionID: session.ID, SessionURL: session.URL}, nil
}

// completeFree handles the 100% discount branch: the purchase is completed
// immediately and the payment provider is never contacted.
func (s *CheckoutService) completeFree(ctx context.Context, purchase *domain.Purchase, target *domain.PurchaseTarget, promo *domain.PromoCode, releaseSlot func()) (*CheckoutResult, error) {
	if promo != nil {
		used, err := s.promos.MarkUsed(ctx, promo.ID)
		if err != nil {
			releaseSlot()
			return nil, fmt.Errorf("redeem promo code: %w", err)
		}
		if !used {
			// lost a race against another redemption of the same code
			releaseSlot()
			return nil, serverrors.New(serverrors.KindBusinessRule, ReasonPromoAlreadyUsed)
		}
	}

	purchase.Status = domain.StatusCompleted
	if err := s.createPurchaseWithRetry(ctx, purchase); err != nil {
		// the code was already burned above; un-burn it or the buyer loses
		// it to a purchase that never existed
		if promo != nil {
			if relErr := s.promos.Release(ctx, promo.ID); relErr != nil {
				s.log.Error("failed to release promo code during rollback",
					slog.String("promo_code_id", promo.ID.String()),
					slog.Any("error", relErr),
				)
			}
		}
		releaseSlot()
		return nil, fmt.Errorf("create purchase: %w", err)
	}

	metrics.FreeCompletions.Inc()
	s.log.Info("purchase completed for free",
		slog.String("order_number", purchase.OrderNumber),
		slog.String("buyer_id", purchase.BuyerID.String()),
	)
	s.publish(ctx, domain.PurchaseEvent{
		Type:        domain.EventCheckoutCompleted,
		OrderNumber: purchase.OrderNumber,
		BuyerID:     purchase.BuyerID.String(),
		TargetID:    purchase.TargetID.String(),
		TargetTitle: target.Title,
		AmountCents: 0,
		OccurredAt:  s.now().UTC(),
	})

	return &CheckoutResult{Purchase: purchase, Free: true}, nil
}

// supersedePending removes an earlier pending purchase for the same pair.
// The guarded delete is the commit point: session expiry and seat release
// happen only after it, so a delete failure leaves the old record intact and
// its seat still counted. Its provider session is expired best-effort: the
// new session supersedes it regardless.
func (s *CheckoutService) supersedePending(ctx context.Context, buyerID, targetID uuid.UUID) error {
	existing, err := s.purchases.FindPending(ctx, buyerID, targetID)
	if err != nil {
		if errors.Is(err, reperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find pending purchase: %w", err)
	}

	if err := s.purchases.DeletePending(ctx, existing.ID); err != nil {
		if errors.Is(err, reperrors.ErrConflict) {
			// the pending record got paid between the completed-check and
			// the lock; this checkout is now a duplicate
			return serverrors.New(serverrors.KindBusinessRule, "you have already purchased this item")
		}
		return fmt.Errorf("delete superseded pending purchase: %w", err)
	}

	if existing.SessionID != "" {
		s.expireSessionBestEffort(ctx, existing.SessionID)
	}
	if existing.IsClassRep {
		// the superseded record held a seat; free it before re-reserving
		if err := s.catalog.ReleaseClassRepSlot(ctx, existing.TargetID); err != nil {
			s.log.Error("failed to release slot of superseded purchase",
				slog.String("purchase_id", existing.ID.String()),
				slog.Any("error", err),
			)
		}
	}

	s.log.Info("superseded stale pending purchase",
		slog.String("purchase_id", existing.ID.String()),
		slog.String("buyer_id", buyerID.String()),
	)
	return nil
}

// CompletePurchase transitions a pending purchase to completed after its
// payment session was paid. Called from the payment webhook route; signature
// verification happens upstream. Idempotent per session.
func (s *CheckoutService) CompletePurchase(ctx context.Context, sessionID string) error {
	purchase, err := s.purchases.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, reperrors.ErrNotFound) {
			return serverrors.New(serverrors.KindValidation, "no purchase for this session")
		}
		return fmt.Errorf("find purchase by session: %w", err)
	}
	if purchase.Status == domain.StatusCompleted {
		return nil
	}
	if purchase.Status != domain.StatusPending {
		return serverrors.New(serverrors.KindBusinessRule, "purchase is not awaiting payment")
	}

	state, err := s.provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		return serverrors.Wrap(serverrors.KindProvider, "payment session could not be verified", err)
	}
	if state.Status != SessionStatusComplete {
		return serverrors.New(serverrors.KindBusinessRule, "payment session is not paid")
	}

	if state.PaymentIntentID != "" && state.PaymentIntentID != purchase.PaymentIntentID {
		if err := s.purchases.UpdateSession(ctx, purchase.ID, sessionID, state.PaymentIntentID); err != nil {
			return fmt.Errorf("record payment intent: %w", err)
		}
	}

	if err := s.purchases.UpdateStatus(ctx, purchase.ID, domain.StatusPending, domain.StatusCompleted); err != nil {
		if errors.Is(err, reperrors.ErrConflict) {
			// a concurrent webhook delivery won; nothing left to do
			return nil
		}
		return fmt.Errorf("complete purchase: %w", err)
	}

	if purchase.PromoCodeID != nil {
		if _, err := s.promos.MarkUsed(ctx, *purchase.PromoCodeID); err != nil {
			s.log.Error("failed to mark promo code used",
				slog.String("promo_code_id", purchase.PromoCodeID.String()),
				slog.Any("error", err),
			)
		}
	}

	s.log.Info("purchase completed",
		slog.String("order_number", purchase.OrderNumber),
		slog.String("session_id", sessionID),
	)
	s.publish(ctx, domain.PurchaseEvent{
		Type:        domain.EventCheckoutCompleted,
		OrderNumber: purchase.OrderNumber,
		BuyerID:     purchase.BuyerID.String(),
		TargetID:    purchase.TargetID.String(),
		AmountCents: purchase.FinalPriceCents,
		OccurredAt:  s.now().UTC(),
	})
	return nil
}

// createPurchaseWithRetry retries the insert on transient database faults
// only; constraint violations and the like fail immediately.
func (s *CheckoutService) createPurchaseWithRetry(ctx context.Context, purchase *domain.Purchase) error {
	return retry.Do(
		func() error {
			return s.purchases.Create(ctx, purchase)
		},
		retry.Attempts(s.cfg.ProviderRetry.Attempts),
		retry.Delay(s.cfg.ProviderRetry.Delay),
		retry.MaxDelay(s.cfg.ProviderRetry.MaxDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return reperrors.IsRetryableError(err)
		}),
	)
}

func (s *CheckoutService) createSessionWithRetry(ctx context.Context, req CreateSessionRequest) (*PaymentSession, error) {
	var session *PaymentSession
	err := retry.Do(
		func() error {
			var err error
			session, err = s.provider.CreateSession(ctx, req)
			return err
		},
		retry.Attempts(s.cfg.ProviderRetry.Attempts),
		retry.Delay(s.cfg.ProviderRetry.Delay),
		retry.MaxDelay(s.cfg.ProviderRetry.MaxDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *CheckoutService) expireSessionBestEffort(ctx context.Context, sessionID string) {
	if err := s.provider.ExpireSession(ctx, sessionID); err != nil {
		s.log.Warn("failed to expire payment session",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
	}
}

// publish is fire-and-forget: a notification failure never fails the flow.
func (s *CheckoutService) publish(ctx context.Context, event domain.PurchaseEvent) {
	if s.notifier == nil {
		return
	}
	metrics.NotificationEvents.Inc()
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.log.Warn("failed to publish purchase event",
			slog.String("type", event.Type),
			slog.String("order_number", event.OrderNumber),
			slog.Any("error", err),
		)
	}
}

func checkoutKey(buyerID, targetID uuid.UUID) string {
	return fmt.Sprintf("checkout:%s:%s", buyerID, targetID)
}

// newOrderNumber derives its suffix from the purchase id, so it inherits the
// uuid's collision guarantees against the global unique constraint.
func newOrderNumber(now time.Time, id uuid.UUID) string {
	suffix := strings.ReplaceAll(id.String(), "-", "")[:12]
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}
