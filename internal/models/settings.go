package models

import "time"

type PointsDiscount struct {
	PointsPerDiscountUnit int     `json:"points_per_discount_unit" mapstructure:"points_per_discount_unit"`
	DiscountPerUnit       float64 `json:"discount_per_unit" mapstructure:"discount_per_unit"`
}

// PricingSettings is the admin-editable input of the quote engine.
type PricingSettings struct {
	PricingPerStep          float64                  `json:"pricing_per_step" mapstructure:"pricing_per_step"`
	ScaleMin                float64                  `json:"scale_min" mapstructure:"scale_min"`
	ScaleMax                float64                  `json:"scale_max" mapstructure:"scale_max"`
	ScaleStep               float64                  `json:"scale_step" mapstructure:"scale_step"`
	InsurancePricing        map[Tier]float64         `json:"insurance_pricing" mapstructure:"insurance_pricing"`
	HealthBucketMultipliers map[HealthBucket]float64 `json:"health_bucket_multipliers" mapstructure:"health_bucket_multipliers"`
	PointsDiscount          PointsDiscount           `json:"points_discount" mapstructure:"points_discount"`
	UpdatedAt               time.Time                `json:"updated_at,omitempty" mapstructure:"-"`
}

// SettingsPatch carries a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	PricingPerStep          *float64                 `json:"pricing_per_step"`
	ScaleMin                *float64                 `json:"scale_min"`
	ScaleMax                *float64                 `json:"scale_max"`
	ScaleStep               *float64                 `json:"scale_step"`
	InsurancePricing        map[Tier]float64         `json:"insurance_pricing"`
	HealthBucketMultipliers map[HealthBucket]float64 `json:"health_bucket_multipliers"`
	PointsDiscount          *PointsDiscount          `json:"points_discount"`
}

func DefaultPricingSettings() PricingSettings {
	return PricingSettings{
		PricingPerStep: 100,
		ScaleMin:       0.001,
		ScaleMax:       0.5,
		ScaleStep:      0.01,
		InsurancePricing: map[Tier]float64{
			TierBasic:   20,
			TierPlus:    30,
			TierPremium: 60,
			TierUltra:   80,
		},
		HealthBucketMultipliers: map[HealthBucket]float64{
			BucketGood:               1.0,
			BucketNormal:             1.2,
			BucketUnhealthy:          1.7,
			BucketExtremelyUnhealthy: 2.4,
		},
		PointsDiscount: PointsDiscount{
			PointsPerDiscountUnit: 10000,
			DiscountPerUnit:       30,
		},
	}
}

// Clone returns a deep copy so callers never share the rate maps.
func (s PricingSettings) Clone() PricingSettings {
	out := s
	out.InsurancePricing = make(map[Tier]float64, len(s.InsurancePricing))
	for k, v := range s.InsurancePricing {
		out.InsurancePricing[k] = v
	}
	out.HealthBucketMultipliers = make(map[HealthBucket]float64, len(s.HealthBucketMultipliers))
	for k, v := range s.HealthBucketMultipliers {
		out.HealthBucketMultipliers[k] = v
	}
	return out
}
