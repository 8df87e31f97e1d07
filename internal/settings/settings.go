// Package settings owns the admin-editable pricing document.
package settings

import (
	"context"
	"fmt"
	"time"

	"etinuxe/internal/db"
	"etinuxe/internal/models"
	"etinuxe/internal/pricing"
	"etinuxe/pkg/logger"
)

type Service struct {
	store    db.Store
	defaults models.PricingSettings
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(store db.Store, defaults models.PricingSettings, l *logger.Logger) *Service {
	return &Service{store: store, defaults: defaults.Clone(), logger: l, now: time.Now}
}

// Current returns the saved settings, or the defaults when none were saved yet.
func Current(ctx context.Context, q db.Queries, defaults models.PricingSettings) (models.PricingSettings, error) {
	s, ok, err := q.GetSettings(ctx)
	if err != nil {
		return models.PricingSettings{}, err
	}
	if !ok {
		return defaults.Clone(), nil
	}
	return s, nil
}

// Defaults is the fallback document used before an admin saves one.
func (s *Service) Defaults() models.PricingSettings {
	return s.defaults.Clone()
}

func (s *Service) Get(ctx context.Context) (models.PricingSettings, error) {
	var out models.PricingSettings
	err := s.store.Read(ctx, func(q db.Queries) error {
		var err error
		out, err = Current(ctx, q, s.defaults)
		return err
	})
	if err != nil {
		return models.PricingSettings{}, fmt.Errorf("failed to load pricing settings: %w", err)
	}
	return out, nil
}

// Patch merges patch into the current settings. Invalid results are rejected
// and nothing is saved.
func (s *Service) Patch(ctx context.Context, patch models.SettingsPatch) (models.PricingSettings, error) {
	var out models.PricingSettings
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		current, err := Current(ctx, q, s.defaults)
		if err != nil {
			return err
		}
		next, err := pricing.Apply(current, patch)
		if err != nil {
			return err
		}
		next.UpdatedAt = s.now().UTC()
		if err := q.SaveSettings(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		s.logger.Warn("Pricing settings update rejected", "error", err)
		return models.PricingSettings{}, err
	}

	s.logger.Info("Pricing settings updated",
		"pricing_per_step", out.PricingPerStep,
		"scale_step", out.ScaleStep,
		"points_per_discount_unit", out.PointsDiscount.PointsPerDiscountUnit)
	return out, nil
}
