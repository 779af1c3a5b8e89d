package domain

import (
	"time"

	"github.com/google/uuid"
)

type DiscountKind string

const (
	DiscountFixed   DiscountKind = "fixed"
	DiscountPercent DiscountKind = "percent"
)

// Discount is a tagged variant: exactly one of AmountCents or Percent is
// meaningful, selected by Kind. Legacy rows carrying both fields are resolved
// at the repository boundary (percent wins).
type Discount struct {
	Kind        DiscountKind `json:"kind"`
	AmountCents int64        `json:"amount_cents,omitempty"`
	Percent     float64      `json:"percent,omitempty"`
}

// PromoCode is a redeemable discount code. Codes are stored uppercase and
// looked up case-insensitively.
type PromoCode struct {
	ID             uuid.UUID   `json:"id"`
	Code           string      `json:"code"`
	Discount       Discount    `json:"discount"`
	IsGeneral      bool        `json:"is_general"`
	OwnerID        *uuid.UUID  `json:"owner_id,omitempty"`
	AllowedTargets []uuid.UUID `json:"allowed_targets,omitempty"`
	ExcludedTarget *uuid.UUID  `json:"excluded_target,omitempty"`
	IsActive       bool        `json:"is_active"`
	IsUsed         bool        `json:"is_used"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
}

func (c *PromoCode) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// AllowsTarget reports whether the target id passes the code's allow-list.
// An empty allow-list admits every target.
func (c *PromoCode) AllowsTarget(targetID uuid.UUID) bool {
	if len(c.AllowedTargets) == 0 {
		return true
	}
	for _, id := range c.AllowedTargets {
		if id == targetID {
			return true
		}
	}
	return false
}
