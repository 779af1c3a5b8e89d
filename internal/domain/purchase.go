package domain

import (
	"time"

	"github.com/google/uuid"
)

type PurchaseType string

const (
	PurchaseTypeProgram PurchaseType = "program"
	PurchaseTypeEvent   PurchaseType = "event"
)

func (t PurchaseType) Valid() bool {
	return t == PurchaseTypeProgram || t == PurchaseTypeEvent
}

type PurchaseStatus string

const (
	StatusPending          PurchaseStatus = "pending"
	StatusCompleted        PurchaseStatus = "completed"
	StatusFailed           PurchaseStatus = "failed"
	StatusCancelled        PurchaseStatus = "cancelled"
	StatusRefundProcessing PurchaseStatus = "refund_processing"
	StatusRefunded         PurchaseStatus = "refunded"
	StatusRefundFailed     PurchaseStatus = "refund_failed"
)

// allowed status transitions; anything absent is illegal
var transitions = map[PurchaseStatus][]PurchaseStatus{
	StatusPending:          {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:        {StatusRefundProcessing},
	StatusRefundProcessing: {StatusRefunded, StatusRefundFailed},
}

func (s PurchaseStatus) CanTransitionTo(next PurchaseStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Purchase is the transactional record of one checkout. Price and discount
// fields are a snapshot computed once at creation; they are never recomputed
// from live target state afterwards.
type Purchase struct {
	ID                     uuid.UUID      `json:"id"`
	OrderNumber            string         `json:"order_number"`
	BuyerID                uuid.UUID      `json:"buyer_id"`
	TargetID               uuid.UUID      `json:"target_id"`
	Type                   PurchaseType   `json:"purchase_type"`
	FullPriceCents         int64          `json:"full_price_cents"`
	ClassRepDiscountCents  int64          `json:"class_rep_discount_cents"`
	EarlyBirdDiscountCents int64          `json:"early_bird_discount_cents"`
	PromoDiscountCents     int64          `json:"promo_discount_cents"`
	PromoDiscountPercent   float64        `json:"promo_discount_percent"`
	FinalPriceCents        int64          `json:"final_price_cents"`
	IsClassRep             bool           `json:"is_class_rep"`
	IsEarlyBird            bool           `json:"is_early_bird"`
	PromoCodeID            *uuid.UUID     `json:"promo_code_id,omitempty"`
	SessionID              string         `json:"session_id,omitempty"`
	PaymentIntentID        string         `json:"payment_intent_id,omitempty"`
	Status                 PurchaseStatus `json:"status"`
	PurchaseDate           time.Time      `json:"purchase_date"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}
