package pricing

import (
	"errors"
	"testing"

	"etinuxe/internal/apperr"
	"etinuxe/internal/models"
)

func TestApplyMergesPatch(t *testing.T) {
	current := models.DefaultPricingSettings()
	step := 0.02
	patch := models.SettingsPatch{
		ScaleStep:        &step,
		InsurancePricing: map[models.Tier]float64{models.TierUltra: 95},
		PointsDiscount:   &models.PointsDiscount{PointsPerDiscountUnit: 500, DiscountPerUnit: 10},
	}

	next, err := Apply(current, patch)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.ScaleStep != 0.02 || next.InsurancePricing[models.TierUltra] != 95 {
		t.Fatalf("patch not applied: %+v", next)
	}
	if next.InsurancePricing[models.TierBasic] != 20 {
		t.Fatalf("untouched rate changed: %v", next.InsurancePricing[models.TierBasic])
	}
	if current.InsurancePricing[models.TierUltra] != 80 {
		t.Fatalf("Apply mutated the current settings")
	}
}

func TestApplyRejectsInvalidSettings(t *testing.T) {
	current := models.DefaultPricingSettings()
	badMin, badStep := 0.9, 0.0
	cases := map[string]models.SettingsPatch{
		"min above max":  {ScaleMin: &badMin},
		"zero step":      {ScaleStep: &badStep},
		"negative rate":  {InsurancePricing: map[models.Tier]float64{models.TierPlus: -1}},
		"unknown tier":   {InsurancePricing: map[models.Tier]float64{"gold": 10}},
		"zero unit size": {PointsDiscount: &models.PointsDiscount{PointsPerDiscountUnit: 0, DiscountPerUnit: 1}},
	}
	for name, patch := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Apply(current, patch)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got.ScaleMin != current.ScaleMin || got.ScaleStep != current.ScaleStep {
				t.Fatalf("rejected patch leaked into result: %+v", got)
			}
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	if err := Validate(models.DefaultPricingSettings()); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
}
