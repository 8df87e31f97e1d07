package onboarding

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"etinuxe/internal/apperr"
	"etinuxe/internal/db"
	"etinuxe/internal/models"
)

func generateResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RequestPasswordReset mails a reset token when email belongs to an account.
// Unknown addresses succeed silently so the endpoint does not reveal which
// emails are registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperr.Validation("invalid_email", "email is required")
	}
	token, err := generateResetToken()
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}

	var (
		user  *models.User
		reset *models.PasswordReset
	)
	err = s.store.Atomic(ctx, func(q db.Queries) error {
		u, err := q.GetUserByEmail(ctx, email)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		user = u
		reset = &models.PasswordReset{
			ID:        uuid.New(),
			UserID:    u.ID,
			Token:     token,
			ExpiresAt: s.now().UTC().Add(PasswordResetTTL),
		}
		return q.CreatePasswordReset(ctx, reset)
	})
	if err != nil {
		return err
	}
	if reset == nil {
		s.logger.Info("Password reset requested for unknown email")
		return nil
	}

	s.logger.Info("Password reset issued", "user_id", user.ID)
	if s.mailer != nil {
		if err := s.mailer.SendPasswordReset(ctx, user, token, reset.ExpiresAt); err != nil {
			s.logger.Error("Failed to deliver password reset", "user_id", user.ID, "error", err)
			return fmt.Errorf("failed to send password reset: %w", err)
		}
	}
	return nil
}

type ResetPasswordInput struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ResetPassword sets a new password with a token from RequestPasswordReset.
// Tokens are single use.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	in.Token = strings.TrimSpace(in.Token)
	if in.Token == "" {
		return apperr.Validation("invalid_token", "reset token is required")
	}
	if len(in.NewPassword) < minPasswordLength {
		return apperr.Validation("weak_password", "password must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	var userID uuid.UUID
	err = s.store.Atomic(ctx, func(q db.Queries) error {
		reset, err := q.FindPasswordReset(ctx, in.Token)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Validation("invalid_token", "invalid or expired token")
		}
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if reset.Consumed || reset.ExpiresAt.Before(now) {
			return apperr.Validation("invalid_token", "invalid or expired token")
		}
		u, err := q.GetUser(ctx, reset.UserID)
		if err != nil {
			return err
		}
		u.PasswordHash = string(hash)
		u.UpdatedAt = now
		if err := q.UpdateUser(ctx, u); err != nil {
			return err
		}
		userID = u.ID
		return q.ConsumePasswordReset(ctx, reset.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Password reset completed", "user_id", userID)
	return nil
}
