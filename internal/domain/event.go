package domain

import "time"

// Purchase event types published to the notification topic.
const (
	EventCheckoutCompleted = "purchase.completed"
	EventPurchaseCancelled = "purchase.cancelled"
	EventRefundSucceeded   = "refund.succeeded"
	EventRefundFailed      = "refund.failed"
)

// PurchaseEvent is the payload of a fire-and-forget notification message.
type PurchaseEvent struct {
	Type        string    `json:"type"`
	OrderNumber string    `json:"order_number"`
	BuyerID     string    `json:"buyer_id"`
	TargetID    string    `json:"target_id"`
	TargetTitle string    `json:"target_title,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	OccurredAt  time.Time `json:"occurred_at"`
}
