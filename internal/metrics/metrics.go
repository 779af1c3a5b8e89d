package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CheckoutAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_attempts_total",
			Help: "Number of checkout attempts",
		},
	)

	CheckoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "checkout_duration_seconds",
			Help: "Time taken to run the checkout orchestration",
		},
	)

	FreeCompletions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_free_completions_total",
			Help: "Number of checkouts completed without a payment session (100% discount)",
		},
	)

	LockTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_lock_timeouts_total",
			Help: "Number of checkout attempts rejected on lock acquisition timeout",
		},
	)

	PendingReconciled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pending_purchases_reconciled_total",
			Help: "Number of stale or redundant pending purchases deleted by the reconciler",
		},
	)

	RefundsInitiated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "refunds_initiated_total",
			Help: "Number of refund workflows started",
		},
	)

	RefundsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "refunds_failed_total",
			Help: "Number of refunds that ended in refund_failed",
		},
	)

	NotificationEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_events_published_total",
			Help: "Number of purchase events handed to the notification producer",
		},
	)
)

func Register() {
	prometheus.MustRegister(
		CheckoutAttempts,
		CheckoutDuration,
		FreeCompletions,
		LockTimeouts,
		PendingReconciled,
		RefundsInitiated,
		RefundsFailed,
		NotificationEvents,
	)
}
