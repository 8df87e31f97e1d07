package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v72"

	"etinuxe/internal/apperr"
	"etinuxe/internal/models"
	"etinuxe/internal/payment"
	"etinuxe/internal/server/response"
	"etinuxe/pkg/logger"
)

// EventVerifier checks a webhook signature and decodes the event.
type EventVerifier interface {
	ConstructEvent(payload []byte, sig string) (stripe.Event, error)
}

type WebhookHandler struct {
	payments *payment.Service
	verifier EventVerifier
	logger   *logger.Logger
}

// NewWebhookHandler builds the Stripe webhook. A nil verifier answers 503.
func NewWebhookHandler(payments *payment.Service, verifier EventVerifier, l *logger.Logger) *WebhookHandler {
	return &WebhookHandler{payments: payments, verifier: verifier, logger: l}
}

// POST /webhook/stripe
func (h *WebhookHandler) Stripe(c *gin.Context) {
	if h.verifier == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "webhook_not_configured", errors.New("stripe is not configured"))
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_signature", errors.New("missing Stripe-Signature header"))
		return
	}

	event, err := h.verifier.ConstructEvent(body, signature)
	if err != nil {
		h.logger.Warn("Failed to verify webhook signature", "error", err)
		response.RespondError(c, http.StatusBadRequest, "invalid_signature", err)
		return
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		err = h.settle(c, event, h.payments.Capture)
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		err = h.settle(c, event, h.payments.Fail)
	default:
		h.logger.Debug("Ignoring webhook event", "type", event.Type, "id", event.ID)
	}
	if err != nil {
		// Sessions we never created are acknowledged, not retried.
		if errors.Is(err, apperr.ErrNotFound) {
			h.logger.Warn("Webhook for unknown checkout session", "type", event.Type, "error", err)
			response.RespondOK(c, gin.H{"received": true})
			return
		}
		response.RespondAppError(c, err)
		return
	}

	response.RespondOK(c, gin.H{"received": true})
}

type settleFunc func(ctx context.Context, ref string) (*models.Payment, error)

func (h *WebhookHandler) settle(c *gin.Context, event stripe.Event, apply settleFunc) error {
	if event.Data == nil {
		return apperr.Validation("invalid_event", "event %s has no data", event.ID)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return apperr.New(apperr.ErrValidation, "invalid_event", "failed to parse checkout session: %v", err)
	}
	if session.ID == "" {
		return apperr.Validation("invalid_event", "checkout session id is missing")
	}

	p, err := apply(c.Request.Context(), session.ID)
	if err != nil {
		return fmt.Errorf("session %s: %w", session.ID, err)
	}
	h.logger.Info("Webhook settled payment", "type", event.Type, "payment_id", p.ID, "status", p.Status)
	return nil
}
