package domain

import (
	"time"

	"github.com/google/uuid"
)

// PurchaseTarget is a program or event offered for sale. Owned by catalog
// management; read-only here except for the class-rep reservation counter,
// which is mutated only through the store's conditional increment.
type PurchaseTarget struct {
	ID                     uuid.UUID    `json:"id"`
	Type                   PurchaseType `json:"type"`
	Title                  string       `json:"title"`
	PriceCents             int64        `json:"price_cents"`
	IsFree                 bool         `json:"is_free"`
	EarlyBirdDeadline      *time.Time   `json:"early_bird_deadline,omitempty"`
	EarlyBirdDiscountCents int64        `json:"early_bird_discount_cents"`
	ClassRepDiscountCents  int64        `json:"class_rep_discount_cents"`
	ClassRepLimit          int          `json:"class_rep_limit"`
	ClassRepCount          int          `json:"class_rep_count"`
	OrganizerID            uuid.UUID    `json:"organizer_id"`
	MentorIDs              []uuid.UUID  `json:"mentor_ids,omitempty"`
}

// EarlyBirdActive reports whether the early-bird discount applies at now.
func (t *PurchaseTarget) EarlyBirdActive(now time.Time) bool {
	return t.EarlyBirdDeadline != nil && t.EarlyBirdDiscountCents > 0 && !now.After(*t.EarlyBirdDeadline)
}

// HasAccess reports whether the user already has access to the target
// (organizer or mentor) and therefore has nothing to buy.
func (t *PurchaseTarget) HasAccess(userID uuid.UUID) bool {
	if t.OrganizerID == userID {
		return true
	}
	for _, id := range t.MentorIDs {
		if id == userID {
			return true
		}
	}
	return false
}
