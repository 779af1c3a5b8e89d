package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/infrastructure/repository/reperrors"
)

type PromoRepository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewPromoRepository(db *pgxpool.Pool, log *slog.Logger) *PromoRepository {
	return &PromoRepository{
		db:  db,
		log: log,
	}
}

// FindByCode expects an already-uppercased code; codes are stored uppercase.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	var (
		c           domain.PromoCode
		amountCents *int64
		percent     *float64
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, code, discount_amount_cents, discount_percent,
		       is_general, owner_id, allowed_targets, excluded_target,
		       is_active, is_used, expires_at
		FROM promo_codes
		WHERE code = $1`,
		code,
	).Scan(
		&c.ID, &c.Code, &amountCents, &percent,
		&c.IsGeneral, &c.OwnerID, &c.AllowedTargets, &c.ExcludedTarget,
		&c.IsActive, &c.IsUsed, &c.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan promo code: %w", err)
	}

	c.Discount = resolveDiscount(amountCents, percent)
	return &c, nil
}

// MarkUsed consumes a single-use code atomically. False means a concurrent
// redemption got there first.
func (r *PromoRepository) MarkUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE promo_codes SET is_used = TRUE
		WHERE id = $1 AND is_used = FALSE`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark promo code used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release reverts a MarkUsed whose surrounding flow failed before the
// purchase existed.
func (r *PromoRepository) Release(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE promo_codes SET is_used = FALSE
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("release promo code: %w", err)
	}
	return nil
}

// resolveDiscount folds the legacy two-column shape into the tagged variant.
// Percent wins when both columns are non-null; the amount is ignored.
func resolveDiscount(amountCents *int64, percent *float64) domain.Discount {
	if percent != nil && *percent > 0 {
		return domain.Discount{Kind: domain.DiscountPercent, Percent: *percent}
	}
	if amountCents != nil {
		return domain.Discount{Kind: domain.DiscountFixed, AmountCents: *amountCents}
	}
	return domain.Discount{Kind: domain.DiscountFixed}
}
