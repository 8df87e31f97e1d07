// internal/payment/stripe.go
package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"etinuxe/config"
	"etinuxe/internal/models"
)

type StripeClient struct {
	secretKey     string
	webhookSecret string
	currency      string
	successURL    string
	cancelURL     string
}

func NewStripeClient(cfg config.StripeConfig) *StripeClient {
	stripe.Key = cfg.SecretKey

	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}
	return &StripeClient{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookKey,
		currency:      currency,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

func (s *StripeClient) Currency() string {
	return s.currency
}

// CreateCheckout opens a one-off checkout session priced at the payment amount.
func (s *StripeClient) CreateCheckout(ctx context.Context, p *models.Payment, description string) (Checkout, error) {
	if stripe.Key != s.secretKey {
		stripe.Key = s.secretKey
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(s.currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
					UnitAmount: stripe.Int64(amountInCents(p.AmountUSD)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(p.UserID.String()),
	}
	params.Context = ctx
	params.AddMetadata("payment_id", p.ID.String())
	params.AddMetadata("kind", string(p.Kind))

	sess, err := session.New(params)
	if err != nil {
		return Checkout{}, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return Checkout{Ref: sess.ID, URL: sess.URL}, nil
}

// ConstructEvent verifies the Stripe-Signature header against the webhook secret.
func (s *StripeClient) ConstructEvent(payload []byte, sig string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, fmt.Errorf("webhook secret is not configured")
	}
	return webhook.ConstructEvent(payload, sig, s.webhookSecret)
}

func amountInCents(usd float64) int64 {
	return int64(usd*100 + 0.5)
}
