package onboarding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"etinuxe/internal/apperr"
	"etinuxe/internal/db"
	"etinuxe/internal/models"
	"etinuxe/internal/pricing"
	"etinuxe/internal/settings"
)

const maxMemoryText = 2000

func verifiedUser(ctx context.Context, q db.Queries, userID uuid.UUID) (*models.User, error) {
	u, err := q.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Status != models.UserVerified {
		return nil, apperr.Eligibility("user_not_verified", "user must verify their email first")
	}
	return u, nil
}

func ownRequest(ctx context.Context, q db.Queries, userID, requestID uuid.UUID) (*models.MiniaturizationRequest, error) {
	r, err := q.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.UserID != userID {
		return nil, apperr.NotFound("request_not_found", "request not found")
	}
	return r, nil
}

type RequestInput struct {
	Scale         float64           `json:"desired_scale"`
	SafetyAnswers map[string]string `json:"safety_answers"`
}

// SubmitRequest files a miniaturization request priced from the current settings.
func (s *Service) SubmitRequest(ctx context.Context, userID uuid.UUID, in RequestInput) (*models.MiniaturizationRequest, error) {
	var req *models.MiniaturizationRequest
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		if _, err := verifiedUser(ctx, q, userID); err != nil {
			return err
		}
		cfg, err := settings.Current(ctx, q, s.defaults)
		if err != nil {
			return err
		}
		if err := pricing.CheckScale(in.Scale, cfg); err != nil {
			return err
		}

		now := s.now().UTC()
		answers := in.SafetyAnswers
		if answers == nil {
			answers = map[string]string{}
		}
		req = &models.MiniaturizationRequest{
			ID:            uuid.New(),
			UserID:        userID,
			Scale:         in.Scale,
			SafetyAnswers: answers,
			CostUSD:       pricing.RequestCost(in.Scale, cfg),
			Status:        models.RequestAwaitingApproval,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return q.CreateRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Miniaturization request submitted", "user_id", userID, "request_id", req.ID, "scale", req.Scale, "cost", req.CostUSD)
	return req, nil
}

type PaymentInput struct {
	RequestID uuid.UUID `json:"request_id"`
	AmountUSD float64   `json:"amount_usd"`
}

// RecordPayment records the procedure payment for a request. With a gateway
// configured the payment stays pending until the checkout completes.
func (s *Service) RecordPayment(ctx context.Context, userID uuid.UUID, in PaymentInput) (*models.Payment, error) {
	if in.AmountUSD <= 0 {
		return nil, apperr.Validation("invalid_amount", "amount_usd must be positive")
	}

	var p *models.Payment
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		req, err := ownRequest(ctx, q, userID, in.RequestID)
		if err != nil {
			return err
		}
		if pricing.Round2(in.AmountUSD) < pricing.Round2(req.CostUSD) {
			return apperr.Validation("insufficient_amount", "amount %.2f is below the request cost %.2f", in.AmountUSD, req.CostUSD)
		}
		p = s.payments.New(userID, req.ID, nil, models.PaymentProcedure, pricing.Round2(in.AmountUSD))
		return q.CreatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Procedure payment recorded", "user_id", userID, "payment_id", p.ID, "amount", p.AmountUSD, "status", p.Status)
	if err := s.payments.StartCheckout(ctx, p, "Miniaturization procedure"); err != nil {
		s.logger.Warn("Payment recorded without checkout", "payment_id", p.ID, "error", err)
	}
	return p, nil
}

// RecordAssessment stores the personality and DNA payload as a checksum only.
func (s *Service) RecordAssessment(ctx context.Context, userID uuid.UUID, payload json.RawMessage) (*models.DNAToken, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return nil, apperr.Validation("invalid_assessment", "assessment payload is required")
	}
	sum := sha256.Sum256([]byte(trimmed))

	var token *models.DNAToken
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		if _, err := verifiedUser(ctx, q, userID); err != nil {
			return err
		}
		token = &models.DNAToken{
			ID:              uuid.New(),
			UserID:          userID,
			PayloadChecksum: hex.EncodeToString(sum[:]),
			CreatedAt:       s.now().UTC(),
		}
		return q.CreateDNAToken(ctx, token)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Assessment recorded", "user_id", userID, "dna_token_id", token.ID)
	return token, nil
}

type TokenInput struct {
	RequestID  uuid.UUID  `json:"request_id"`
	DNATokenID *uuid.UUID `json:"dna_token_id"`
}

// IssueToken creates the miniaturization token awaiting staff approval. The
// newest DNA token is used when none is named.
func (s *Service) IssueToken(ctx context.Context, userID uuid.UUID, in TokenInput) (*models.MiniaturizationToken, error) {
	var token *models.MiniaturizationToken
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		req, err := ownRequest(ctx, q, userID, in.RequestID)
		if err != nil {
			return err
		}

		var dna *models.DNAToken
		if in.DNATokenID != nil {
			dna, err = q.GetDNAToken(ctx, *in.DNATokenID)
			if err != nil {
				return err
			}
			if dna.UserID != userID {
				return apperr.NotFound("dna_token_not_found", "dna token not found")
			}
		} else {
			list, err := q.ListDNATokens(ctx, userID)
			if err != nil {
				return err
			}
			for i := range list {
				if dna == nil || list[i].CreatedAt.After(dna.CreatedAt) {
					dna = &list[i]
				}
			}
			if dna == nil {
				return apperr.Eligibility("assessment_required", "complete the assessment before requesting a token")
			}
		}

		payments, err := q.ListPayments(ctx, &userID)
		if err != nil {
			return err
		}
		paid := false
		for _, p := range payments {
			if p.RequestID == req.ID && p.Kind == models.PaymentProcedure && p.Status != models.PaymentFailed {
				paid = true
				break
			}
		}
		if !paid {
			return apperr.Eligibility("payment_required", "pay for the request before requesting a token")
		}

		now := s.now().UTC()
		token = &models.MiniaturizationToken{
			ID:         uuid.New(),
			UserID:     userID,
			RequestID:  req.ID,
			DNATokenID: dna.ID,
			Status:     models.RequestAwaitingApproval,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return q.CreateMiniToken(ctx, token)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Miniaturization token issued", "user_id", userID, "token_id", token.ID, "request_id", token.RequestID)
	return token, nil
}

func allowedTransition(from, to models.RequestStatus) bool {
	switch to {
	case models.RequestApproved, models.RequestRejected:
		return from == models.RequestAwaitingApproval
	case models.RequestCompleted:
		return from == models.RequestApproved
	}
	return false
}

// UpdateTokenStatus is the staff decision on a token. The request follows the
// token. Completing a procedure activates the user's initial insurance tier
// once.
func (s *Service) UpdateTokenStatus(ctx context.Context, tokenID uuid.UUID, status models.RequestStatus) (*models.MiniaturizationToken, error) {
	if status != models.RequestApproved && status != models.RequestRejected && status != models.RequestCompleted {
		return nil, apperr.Validation("invalid_status", "status must be approved, rejected or completed")
	}

	var token *models.MiniaturizationToken
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		var err error
		token, err = q.GetMiniToken(ctx, tokenID)
		if err != nil {
			return err
		}
		if token.Status == status {
			return nil
		}
		if !allowedTransition(token.Status, status) {
			return apperr.Conflict("invalid_transition", "token cannot move from %s to %s", token.Status, status)
		}
		req, err := q.LockRequest(ctx, token.RequestID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		token.Status = status
		token.UpdatedAt = now
		req.Status = status
		req.UpdatedAt = now
		switch status {
		case models.RequestApproved:
			token.ApprovedAt = &now
			req.ApprovedAt = &now
		case models.RequestCompleted:
			token.CompletedAt = &now
			req.CompletedAt = &now
		}
		if err := q.UpdateMiniToken(ctx, token); err != nil {
			return err
		}
		return q.UpdateRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Token status updated", "token_id", tokenID, "status", status)
	if status == models.RequestCompleted && s.insurance != nil {
		if _, err := s.insurance.ActivateInitial(ctx, token.UserID, token.RequestID); err != nil {
			s.logger.Error("Failed to activate initial insurance", "user_id", token.UserID, "request_id", token.RequestID, "error", err)
		}
	}
	return token, nil
}

type MemoryInput struct {
	Text     string  `json:"memory_text"`
	Valence  float64 `json:"valence"`
	Strength float64 `json:"strength"`
	Toxicity float64 `json:"toxicity"`
}

func (in *MemoryInput) validate() error {
	in.Text = strings.TrimSpace(in.Text)
	switch {
	case in.Text == "":
		return apperr.Validation("invalid_memory", "memory_text is required")
	case utf8.RuneCountInString(in.Text) > maxMemoryText:
		return apperr.Validation("invalid_memory", "memory_text exceeds %d characters", maxMemoryText)
	case in.Valence < -1 || in.Valence > 1:
		return apperr.Validation("invalid_memory", "valence must be within -1 to 1")
	case in.Strength < 0 || in.Strength > 1:
		return apperr.Validation("invalid_memory", "strength must be within 0-1")
	case in.Toxicity < 0 || in.Toxicity > 1:
		return apperr.Validation("invalid_memory", "toxicity must be within 0-1")
	}
	return nil
}

type MemoryResult struct {
	Log     *models.MemoryLog    `json:"memory_log"`
	Summary models.PointsSummary `json:"memory_summary"`
}

// RecordMemory logs a memory and awards points. One log per user per cooldown.
func (s *Service) RecordMemory(ctx context.Context, userID uuid.UUID, in MemoryInput) (*MemoryResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	res := &MemoryResult{}
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return err
		}
		if _, err := verifiedUser(ctx, q, userID); err != nil {
			return err
		}

		now := s.now().UTC()
		last, err := q.ListMemoryLogs(ctx, userID, 1)
		if err != nil {
			return err
		}
		if len(last) > 0 && now.Sub(last[0].CreatedAt) < MemoryCooldown {
			wait := MemoryCooldown - now.Sub(last[0].CreatedAt)
			return apperr.New(apperr.ErrRateLimited, "memory_cooldown", "next memory can be logged in %s", wait.Round(time.Second))
		}

		log := &models.MemoryLog{
			ID:            uuid.New(),
			UserID:        userID,
			Text:          in.Text,
			Valence:       in.Valence,
			Strength:      in.Strength,
			Toxicity:      in.Toxicity,
			PointsAwarded: MemoryReward,
			CreatedAt:     now,
		}
		if err := q.CreateMemoryLog(ctx, log); err != nil {
			return err
		}
		if err := q.AddPoints(ctx, &models.PointsEntry{
			ID:        uuid.New(),
			UserID:    userID,
			Delta:     MemoryReward,
			Reason:    models.PointsReasonMemory,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		res.Log = log
		res.Summary, err = q.PointsSummary(ctx, userID)
		return err
	})
	if errors.Is(err, apperr.ErrRateLimited) {
		s.logger.Info("Memory log throttled", "user_id", userID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Memory logged", "user_id", userID, "points", MemoryReward, "available", res.Summary.AvailablePoints)
	return res, nil
}
