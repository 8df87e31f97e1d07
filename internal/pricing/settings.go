package pricing

import (
	"etinuxe/internal/apperr"
	"etinuxe/internal/models"
)

// Validate rejects settings the quote engine cannot price with.
func Validate(s models.PricingSettings) error {
	if s.PricingPerStep < 0 {
		return apperr.Validation("invalid_settings", "pricing_per_step must not be negative")
	}
	if s.ScaleStep <= 0 {
		return apperr.Validation("invalid_settings", "scale_step must be positive")
	}
	if s.ScaleMin <= 0 || s.ScaleMin > s.ScaleMax || s.ScaleMax > 1 {
		return apperr.Validation("invalid_settings", "scale bounds must satisfy 0 < scale_min <= scale_max <= 1")
	}
	for _, tier := range models.Tiers {
		if rate, ok := s.InsurancePricing[tier]; !ok || rate <= 0 {
			return apperr.Validation("invalid_settings", "insurance rate for %q must be positive", tier)
		}
	}
	for tier := range s.InsurancePricing {
		if !tier.Valid() {
			return &InvalidTierError{Tier: tier}
		}
	}
	for _, bucket := range models.HealthBuckets {
		if m, ok := s.HealthBucketMultipliers[bucket]; !ok || m <= 0 {
			return apperr.Validation("invalid_settings", "multiplier for %q must be positive", bucket)
		}
	}
	for bucket := range s.HealthBucketMultipliers {
		if !bucket.Valid() {
			return apperr.Validation("invalid_settings", "unknown health bucket %q", bucket)
		}
	}
	if s.PointsDiscount.PointsPerDiscountUnit < 1 {
		return apperr.Validation("invalid_settings", "points_per_discount_unit must be at least 1")
	}
	if s.PointsDiscount.DiscountPerUnit <= 0 {
		return apperr.Validation("invalid_settings", "discount_per_unit must be positive")
	}
	return nil
}

// Apply merges patch over current and validates the result. current is not modified.
func Apply(current models.PricingSettings, patch models.SettingsPatch) (models.PricingSettings, error) {
	next := current.Clone()
	if patch.PricingPerStep != nil {
		next.PricingPerStep = *patch.PricingPerStep
	}
	if patch.ScaleMin != nil {
		next.ScaleMin = *patch.ScaleMin
	}
	if patch.ScaleMax != nil {
		next.ScaleMax = *patch.ScaleMax
	}
	if patch.ScaleStep != nil {
		next.ScaleStep = *patch.ScaleStep
	}
	for tier, rate := range patch.InsurancePricing {
		next.InsurancePricing[tier] = rate
	}
	for bucket, m := range patch.HealthBucketMultipliers {
		next.HealthBucketMultipliers[bucket] = m
	}
	if patch.PointsDiscount != nil {
		next.PointsDiscount = *patch.PointsDiscount
	}
	if err := Validate(next); err != nil {
		return current, err
	}
	return next, nil
}
