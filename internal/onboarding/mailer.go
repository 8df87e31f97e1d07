package onboarding

import (
	"context"
	"time"

	"etinuxe/internal/models"
	"etinuxe/pkg/logger"
)

// LogMailer writes verification codes and reset tokens to the log. It stands
// in for a mail transport in development.
type LogMailer struct {
	Logger *logger.Logger
}

func (m LogMailer) SendOTP(_ context.Context, u *models.User, code string, expiresAt time.Time) error {
	m.Logger.Info("Verification code issued", "user_id", u.ID, "email", u.Email, "code", code, "expires_at", expiresAt)
	return nil
}

func (m LogMailer) SendPasswordReset(_ context.Context, u *models.User, token string, expiresAt time.Time) error {
	m.Logger.Info("Password reset issued", "user_id", u.ID, "email", u.Email, "token", token, "expires_at", expiresAt)
	return nil
}
