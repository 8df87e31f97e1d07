// Package pricing computes procedure costs and monthly insurance premiums from
// the admin pricing settings. Everything here is pure.
package pricing

import (
	"fmt"
	"math"

	"etinuxe/internal/apperr"
	"etinuxe/internal/models"
)

// Float noise below this is ignored when counting scale steps, so 0.10/0.01
// is 10 steps and not 11.
const stepEpsilon = 1e-9

type Quote struct {
	Tier             models.Tier         `json:"tier"`
	Scale            float64             `json:"scale"`
	Steps            int                 `json:"steps"`
	BaseRatePerStep  float64             `json:"base_rate_per_step"`
	HealthBucket     models.HealthBucket `json:"health_bucket"`
	BucketMultiplier float64             `json:"bucket_multiplier"`
	MonthlyPremium   float64             `json:"monthly_premium"`
	FinalPremium     float64             `json:"final_premium"`
	PointsRedeemed   float64             `json:"points_redeemed"`
	DiscountValueUSD float64             `json:"discount_value_usd"`
	PointsAvailable  float64             `json:"points_available"`
}

type InvalidTierError struct {
	Tier models.Tier
}

func (e *InvalidTierError) Error() string {
	return fmt.Sprintf("invalid insurance tier %q", e.Tier)
}

func (e *InvalidTierError) Unwrap() error     { return apperr.ErrValidation }
func (e *InvalidTierError) ErrorCode() string { return "invalid_tier" }

type OutOfRangeError struct {
	Scale    float64
	Min, Max float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("scale %g outside permitted range [%g, %g]", e.Scale, e.Min, e.Max)
}

func (e *OutOfRangeError) Unwrap() error     { return apperr.ErrValidation }
func (e *OutOfRangeError) ErrorCode() string { return "scale_out_of_range" }

// Steps counts how many scale quanta a scale spans, rounding up.
func Steps(scale, quantum float64) int {
	if quantum <= 0 {
		return 1
	}
	n := int(math.Ceil(scale/quantum - stepEpsilon))
	if n < 1 {
		return 1
	}
	return n
}

// CheckScale validates scale against the configured bounds.
func CheckScale(scale float64, settings models.PricingSettings) error {
	if scale <= 0 || scale < settings.ScaleMin || scale > settings.ScaleMax {
		return &OutOfRangeError{Scale: scale, Min: settings.ScaleMin, Max: settings.ScaleMax}
	}
	return nil
}

// Calculate prices tier for request. The points discount is applied in whole
// units and never exceeds the premium; PointsRedeemed is exactly the number of
// points whose discount was applied.
func Calculate(request *models.MiniaturizationRequest, tier models.Tier, settings models.PricingSettings, bucket models.HealthBucket, availablePoints float64) (Quote, error) {
	if request == nil {
		return Quote{}, apperr.Validation("missing_request", "miniaturization request is required")
	}
	if !tier.Valid() {
		return Quote{}, &InvalidTierError{Tier: tier}
	}
	baseRate, ok := settings.InsurancePricing[tier]
	if !ok || baseRate <= 0 {
		return Quote{}, &InvalidTierError{Tier: tier}
	}
	if err := CheckScale(request.Scale, settings); err != nil {
		return Quote{}, err
	}
	multiplier, ok := settings.HealthBucketMultipliers[bucket]
	if !bucket.Valid() || !ok || multiplier <= 0 {
		return Quote{}, apperr.Validation("invalid_health_bucket", "invalid health bucket %q", bucket)
	}
	if availablePoints < 0 {
		availablePoints = 0
	}

	steps := Steps(request.Scale, settings.ScaleStep)
	premiumCents := toCents(float64(steps) * baseRate * multiplier)

	var units int64
	policy := settings.PointsDiscount
	unitCents := toCents(policy.DiscountPerUnit)
	if policy.PointsPerDiscountUnit > 0 && unitCents > 0 && premiumCents > 0 {
		affordable := int64(math.Floor(availablePoints / float64(policy.PointsPerDiscountUnit)))
		byCost := premiumCents / unitCents
		units = min(affordable, byCost)
		if units < 0 {
			units = 0
		}
	}
	discountCents := units * unitCents
	finalCents := max(premiumCents-discountCents, 0)

	return Quote{
		Tier:             tier,
		Scale:            request.Scale,
		Steps:            steps,
		BaseRatePerStep:  baseRate,
		HealthBucket:     bucket,
		BucketMultiplier: multiplier,
		MonthlyPremium:   fromCents(premiumCents),
		FinalPremium:     fromCents(finalCents),
		PointsRedeemed:   float64(units * int64(policy.PointsPerDiscountUnit)),
		DiscountValueUSD: fromCents(discountCents),
		PointsAvailable:  availablePoints,
	}, nil
}

// RequestCost is the one-off procedure price: every step of size reduction is
// billed at pricing_per_step.
func RequestCost(scale float64, settings models.PricingSettings) float64 {
	reduction := math.Max(0, 1-scale)
	if settings.ScaleStep <= 0 || reduction == 0 {
		return 0
	}
	steps := math.Ceil(reduction/settings.ScaleStep - stepEpsilon)
	return Round2(steps * settings.PricingPerStep)
}

func Round2(v float64) float64 {
	return fromCents(toCents(v))
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func fromCents(c int64) float64 {
	return float64(c) / 100
}
