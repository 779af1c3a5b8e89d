package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/infrastructure/repository/reperrors"
)

// User-facing reasons for promo rejection, one per failed check.
const (
	ReasonPromoNotFound      = "promo code not found"
	ReasonPromoDeactivated   = "promo code is deactivated"
	ReasonPromoAlreadyUsed   = "promo code has already been used"
	ReasonPromoExpired       = "promo code has expired"
	ReasonPromoExcluded      = "promo code cannot be applied to this item"
	ReasonPromoNotApplicable = "promo code is not valid for this item"
	ReasonPromoNotYours      = "promo code belongs to another user"
)

type PromoRepository interface {
	FindByCode(ctx context.Context, code string) (*domain.PromoCode, error)
	// MarkUsed flips is_used atomically; false means the code was already
	// consumed by a concurrent redemption.
	MarkUsed(ctx context.Context, id uuid.UUID) (bool, error)
	// Release reverts a MarkUsed whose surrounding flow failed.
	Release(ctx context.Context, id uuid.UUID) error
}

// PromoValidation is the outcome of one validation run. Code is populated
// only when Valid is true.
type PromoValidation struct {
	Valid  bool
	Reason string
	Code   *domain.PromoCode
}

type PromoValidator struct {
	repo PromoRepository
	log  *slog.Logger
	now  func() time.Time
}

func NewPromoValidator(repo PromoRepository, log *slog.Logger) *PromoValidator {
	return &PromoValidator{repo: repo, log: log, now: time.Now}
}

// Validate runs the ordered checks, short-circuiting on the first failure.
// The returned error is reserved for infrastructure faults; every business
// rejection comes back as Valid=false with a distinct reason.
func (v *PromoValidator) Validate(ctx context.Context, code string, buyerID uuid.UUID, target *domain.PurchaseTarget) (PromoValidation, error) {
	promo, err := v.repo.FindByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if errors.Is(err, reperrors.ErrNotFound) {
			return PromoValidation{Reason: ReasonPromoNotFound}, nil
		}
		return PromoValidation{}, err
	}

	switch {
	case !promo.IsActive:
		return PromoValidation{Reason: ReasonPromoDeactivated}, nil
	case promo.IsUsed:
		return PromoValidation{Reason: ReasonPromoAlreadyUsed}, nil
	case promo.IsExpired(v.now()):
		return PromoValidation{Reason: ReasonPromoExpired}, nil
	case promo.ExcludedTarget != nil && *promo.ExcludedTarget == target.ID:
		return PromoValidation{Reason: ReasonPromoExcluded}, nil
	case !promo.AllowsTarget(target.ID):
		return PromoValidation{Reason: ReasonPromoNotApplicable}, nil
	case !promo.IsGeneral && (promo.OwnerID == nil || *promo.OwnerID != buyerID):
		// a personal code without an owner is malformed data; reject it the
		// same way as someone else's code
		return PromoValidation{Reason: ReasonPromoNotYours}, nil
	}

	return PromoValidation{Valid: true, Code: promo}, nil
}
