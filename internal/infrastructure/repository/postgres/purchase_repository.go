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

type PurchaseRepository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewPurchaseRepository(db *pgxpool.Pool, log *slog.Logger) *PurchaseRepository {
	return &PurchaseRepository{
		db:  db,
		log: log,
	}
}

const purchaseColumns = `
	id, order_number, buyer_id, target_id, purchase_type,
	full_price_cents, class_rep_discount_cents, early_bird_discount_cents,
	promo_discount_cents, promo_discount_percent, final_price_cents,
	is_class_rep, is_early_bird, promo_code_id,
	session_id, payment_intent_id, status, purchase_date, created_at, updated_at`

func (r *PurchaseRepository) Create(ctx context.Context, p *domain.Purchase) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		p.ID, p.OrderNumber, p.BuyerID, p.TargetID, p.Type,
		p.FullPriceCents, p.ClassRepDiscountCents, p.EarlyBirdDiscountCents,
		p.PromoDiscountCents, p.PromoDiscountPercent, p.FinalPriceCents,
		p.IsClassRep, p.IsEarlyBird, p.PromoCodeID,
		p.SessionID, p.PaymentIntentID, p.Status, p.PurchaseDate, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

func (r *PurchaseRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Purchase, error) {
	row := r.db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id)
	return scanPurchase(row)
}

func (r *PurchaseRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.Purchase, error) {
	row := r.db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE session_id = $1`, sessionID)
	return scanPurchase(row)
}

func (r *PurchaseRepository) FindPending(ctx context.Context, buyerID, targetID uuid.UUID) (*domain.Purchase, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE buyer_id = $1 AND target_id = $2 AND status = $3`,
		buyerID, targetID, domain.StatusPending,
	)
	return scanPurchase(row)
}

func (r *PurchaseRepository) HasCompleted(ctx context.Context, buyerID, targetID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM purchases
			WHERE buyer_id = $1 AND target_id = $2 AND status = $3
		)`,
		buyerID, targetID, domain.StatusCompleted,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check completed purchase: %w", err)
	}
	return exists, nil
}

func (r *PurchaseRepository) ListPendingByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Purchase, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE buyer_id = $1 AND status = $2
		ORDER BY created_at`,
		buyerID, domain.StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending purchases: %w", err)
	}
	defer rows.Close()

	var purchases []domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, *p)
	}
	return purchases, rows.Err()
}

// DeletePending is status-guarded like UpdateStatus: the row must still be
// pending, so a purchase that got paid between the caller's check and the
// delete survives. Zero rows means the record changed state (or vanished)
// concurrently.
func (r *PurchaseRepository) DeletePending(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM purchases WHERE id = $1 AND status = $2`, id, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("delete pending purchase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reperrors.ErrConflict
	}
	return nil
}

// UpdateStatus is a guarded transition: the row must still be in the expected
// from-state, otherwise reperrors.ErrConflict.
func (r *PurchaseRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.PurchaseStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("illegal status transition %s -> %s", from, to)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE purchases SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("update purchase status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reperrors.ErrConflict
	}
	return nil
}

func (r *PurchaseRepository) UpdateSession(ctx context.Context, id uuid.UUID, sessionID, paymentIntentID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE purchases SET session_id = $1, payment_intent_id = $2, updated_at = now()
		WHERE id = $3`,
		sessionID, paymentIntentID, id,
	)
	if err != nil {
		return fmt.Errorf("update purchase session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reperrors.ErrNotFound
	}
	return nil
}

func scanPurchase(row pgx.Row) (*domain.Purchase, error) {
	var p domain.Purchase
	err := row.Scan(
		&p.ID, &p.OrderNumber, &p.BuyerID, &p.TargetID, &p.Type,
		&p.FullPriceCents, &p.ClassRepDiscountCents, &p.EarlyBirdDiscountCents,
		&p.PromoDiscountCents, &p.PromoDiscountPercent, &p.FinalPriceCents,
		&p.IsClassRep, &p.IsEarlyBird, &p.PromoCodeID,
		&p.SessionID, &p.PaymentIntentID, &p.Status, &p.PurchaseDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan purchase: %w", err)
	}
	return &p, nil
}
