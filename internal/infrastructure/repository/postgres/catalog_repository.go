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

// CatalogRepository reads purchase targets and owns the class-rep seat
// counter. The counter is only ever mutated through single-statement
// conditional updates, never read-then-write, so concurrent checkouts across
// different lock keys cannot oversell the capacity.
type CatalogRepository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewCatalogRepository(db *pgxpool.Pool, log *slog.Logger) *CatalogRepository {
	return &CatalogRepository{
		db:  db,
		log: log,
	}
}

func (r *CatalogRepository) FindTarget(ctx context.Context, typ domain.PurchaseType, id uuid.UUID) (*domain.PurchaseTarget, error) {
	var t domain.PurchaseTarget
	err := r.db.QueryRow(ctx, `
		SELECT id, type, title, price_cents, is_free,
		       early_bird_deadline, early_bird_discount_cents,
		       class_rep_discount_cents, class_rep_limit, class_rep_count,
		       organizer_id, mentor_ids
		FROM purchase_targets
		WHERE id = $1 AND type = $2`,
		id, typ,
	).Scan(
		&t.ID, &t.Type, &t.Title, &t.PriceCents, &t.IsFree,
		&t.EarlyBirdDeadline, &t.EarlyBirdDiscountCents,
		&t.ClassRepDiscountCents, &t.ClassRepLimit, &t.ClassRepCount,
		&t.OrganizerID, &t.MentorIDs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}
	return &t, nil
}

// ReserveClassRepSlot increments the seat counter only while it is below the
// limit. Zero rows affected means the seats are gone; nothing was mutated.
func (r *CatalogRepository) ReserveClassRepSlot(ctx context.Context, targetID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE purchase_targets
		SET class_rep_count = class_rep_count + 1
		WHERE id = $1 AND class_rep_count < class_rep_limit`,
		targetID,
	)
	if err != nil {
		return false, fmt.Errorf("reserve class-rep slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseClassRepSlot decrements the seat counter, clamped at zero.
func (r *CatalogRepository) ReleaseClassRepSlot(ctx context.Context, targetID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE purchase_targets
		SET class_rep_count = class_rep_count - 1
		WHERE id = $1 AND class_rep_count > 0`,
		targetID,
	)
	if err != nil {
		return fmt.Errorf("release class-rep slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.log.Warn("release of class-rep slot matched no row",
			slog.String("target_id", targetID.String()),
		)
	}
	return nil
}
