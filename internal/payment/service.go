package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"etinuxe/internal/db"
	"etinuxe/internal/models"
	"etinuxe/pkg/logger"
)

type Checkout struct {
	Ref string
	URL string
}

// Gateway collects money for a payment outside the process.
type Gateway interface {
	CreateCheckout(ctx context.Context, p *models.Payment, description string) (Checkout, error)
}

// Service records payments and drives them through the gateway. Without a
// gateway every payment is captured as soon as it is recorded.
type Service struct {
	store    db.Store
	gateway  Gateway
	currency string
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(store db.Store, gateway Gateway, currency string, l *logger.Logger) *Service {
	if currency == "" {
		currency = "usd"
	}
	return &Service{store: store, gateway: gateway, currency: currency, logger: l, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// New builds a payment row ready to be stored inside the caller's transaction.
func (s *Service) New(userID, requestID uuid.UUID, policyID *uuid.UUID, kind models.PaymentKind, amount float64) *models.Payment {
	now := s.now().UTC()
	p := &models.Payment{
		ID:        uuid.New(),
		UserID:    userID,
		RequestID: requestID,
		PolicyID:  policyID,
		Kind:      kind,
		AmountUSD: amount,
		Currency:  s.currency,
		Status:    models.PaymentPending,
		CreatedAt: now,
	}
	if s.gateway == nil {
		p.Status = models.PaymentCaptured
		p.PaidAt = &now
	}
	return p
}

// StartCheckout opens a gateway checkout for a pending payment and stores the
// session reference. Captured payments are left alone.
func (s *Service) StartCheckout(ctx context.Context, p *models.Payment, description string) error {
	if p == nil || s.gateway == nil || p.Status != models.PaymentPending {
		return nil
	}

	checkout, err := s.gateway.CreateCheckout(ctx, p, description)
	if err != nil {
		s.logger.Error("Failed to create checkout", "payment_id", p.ID, "error", err)
		return err
	}
	p.ExternalRef = checkout.Ref
	p.CheckoutURL = checkout.URL

	if err := s.store.Atomic(ctx, func(q db.Queries) error {
		return q.UpdatePayment(ctx, p)
	}); err != nil {
		return fmt.Errorf("failed to save checkout reference: %w", err)
	}

	s.logger.Info("Checkout created", "payment_id", p.ID, "ref", checkout.Ref, "amount", p.AmountUSD)
	return nil
}

// Capture marks the payment behind a completed checkout as paid. Repeated
// deliveries of the same event are harmless.
func (s *Service) Capture(ctx context.Context, ref string) (*models.Payment, error) {
	return s.settle(ctx, ref, models.PaymentCaptured)
}

// Fail marks the payment behind an expired or failed checkout.
func (s *Service) Fail(ctx context.Context, ref string) (*models.Payment, error) {
	return s.settle(ctx, ref, models.PaymentFailed)
}

func (s *Service) settle(ctx context.Context, ref string, status models.PaymentStatus) (*models.Payment, error) {
	var out *models.Payment
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		p, err := q.GetPaymentByRef(ctx, ref)
		if err != nil {
			return err
		}
		if p.Status == models.PaymentCaptured || p.Status == status {
			out = p
			return nil
		}
		p.Status = status
		if status == models.PaymentCaptured {
			now := s.now().UTC()
			p.PaidAt = &now
		}
		if err := q.UpdatePayment(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment settled", "payment_id", out.ID, "ref", ref, "status", out.Status)
	return out, nil
}
