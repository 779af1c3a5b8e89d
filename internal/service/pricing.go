package service

import (
	"math"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/service/serverrors"
)

// ErrBelowMinimumCharge is returned when the discounted price is non-zero but
// under the processor's minimum chargeable amount. The buyer cannot fix this;
// it needs a catalog correction, so it carries the pricing kind, not a
// validation kind.
var ErrBelowMinimumCharge = serverrors.New(serverrors.KindPricing, "final price is below the minimum chargeable amount")

// PriceOptions selects which discounts participate in a quote. The promo
// fixed amount and percentage are independent inputs: when both are present
// the fixed amount is subtracted first and the percentage applies to the
// remainder.
type PriceOptions struct {
	ClassRepDiscountCents  int64
	EarlyBirdDiscountCents int64
	PromoFixedCents        int64
	PromoPercent           float64
}

// PriceQuote is the breakdown of one pricing run. Applied amounts are the
// actual subtractions after clamping, so they always sum with FinalPriceCents
// back to FullPriceCents.
type PriceQuote struct {
	FullPriceCents         int64
	ClassRepAppliedCents   int64
	EarlyBirdAppliedCents  int64
	PromoFixedAppliedCents int64
	PromoPercent           float64
	PromoPercentCents      int64
	FinalPriceCents        int64
}

// Free reports whether the quote hit exactly zero (100% discount). A free
// quote bypasses the payment provider entirely.
func (q PriceQuote) Free() bool { return q.FinalPriceCents == 0 }

// ComputeFinalPrice applies discounts in fixed stacking order: class-rep,
// early-bird, promo fixed amount, then promo percentage on the remainder.
// Every step clamps at zero; excess discount is absorbed silently.
func ComputeFinalPrice(basePriceCents int64, opts PriceOptions, minChargeCents int64) (PriceQuote, error) {
	q := PriceQuote{FullPriceCents: basePriceCents, PromoPercent: opts.PromoPercent}

	remaining := basePriceCents

	q.ClassRepAppliedCents = clampDiscount(remaining, opts.ClassRepDiscountCents)
	remaining -= q.ClassRepAppliedCents

	q.EarlyBirdAppliedCents = clampDiscount(remaining, opts.EarlyBirdDiscountCents)
	remaining -= q.EarlyBirdAppliedCents

	q.PromoFixedAppliedCents = clampDiscount(remaining, opts.PromoFixedCents)
	remaining -= q.PromoFixedAppliedCents

	if opts.PromoPercent > 0 {
		pct := int64(math.Round(float64(remaining) * opts.PromoPercent / 100))
		q.PromoPercentCents = clampDiscount(remaining, pct)
		remaining -= q.PromoPercentCents
	}

	q.FinalPriceCents = remaining

	if q.FinalPriceCents > 0 && q.FinalPriceCents < minChargeCents {
		return q, ErrBelowMinimumCharge
	}

	return q, nil
}

func clampDiscount(remaining, discount int64) int64 {
	if discount <= 0 {
		return 0
	}
	if discount > remaining {
		return remaining
	}
	return discount
}
