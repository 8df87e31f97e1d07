package db

import (
	"context"

	"github.com/google/uuid"

	"etinuxe/internal/models"
)

// Queries is the record-level API over one consistent view of the data:
// either a read or an open transaction.
type Queries interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context) ([]models.User, error)
	// LockUser serialises writers touching the user's points balance.
	LockUser(ctx context.Context, id uuid.UUID) error

	CreateOTP(ctx context.Context, otp *models.OTP) error
	FindOTP(ctx context.Context, userID uuid.UUID, code string) (*models.OTP, error)
	ConsumeOTP(ctx context.Context, id uuid.UUID) error

	// CreatePasswordReset stores r and drops any earlier reset for the same user.
	CreatePasswordReset(ctx context.Context, r *models.PasswordReset) error
	FindPasswordReset(ctx context.Context, token string) (*models.PasswordReset, error)
	ConsumePasswordReset(ctx context.Context, id uuid.UUID) error

	CreateRequest(ctx context.Context, r *models.MiniaturizationRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.MiniaturizationRequest, error)
	// LockRequest reads a request and holds it until the transaction ends.
	LockRequest(ctx context.Context, id uuid.UUID) (*models.MiniaturizationRequest, error)
	UpdateRequest(ctx context.Context, r *models.MiniaturizationRequest) error
	ListRequests(ctx context.Context, userID *uuid.UUID) ([]models.MiniaturizationRequest, error)

	CreateDNAToken(ctx context.Context, t *models.DNAToken) error
	GetDNAToken(ctx context.Context, id uuid.UUID) (*models.DNAToken, error)
	ListDNATokens(ctx context.Context, userID uuid.UUID) ([]models.DNAToken, error)

	CreateMiniToken(ctx context.Context, t *models.MiniaturizationToken) error
	GetMiniToken(ctx context.Context, id uuid.UUID) (*models.MiniaturizationToken, error)
	UpdateMiniToken(ctx context.Context, t *models.MiniaturizationToken) error
	ListMiniTokens(ctx context.Context, userID *uuid.UUID) ([]models.MiniaturizationToken, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	UpdatePayment(ctx context.Context, p *models.Payment) error
	GetPaymentByRef(ctx context.Context, ref string) (*models.Payment, error)
	ListPayments(ctx context.Context, userID *uuid.UUID) ([]models.Payment, error)

	CreatePolicy(ctx context.Context, p *models.InsurancePolicy) error
	UpdatePolicy(ctx context.Context, p *models.InsurancePolicy) error
	ListRequestPolicies(ctx context.Context, requestID uuid.UUID) ([]models.InsurancePolicy, error)
	ListPolicies(ctx context.Context, userID *uuid.UUID) ([]models.InsurancePolicy, error)

	AddPoints(ctx context.Context, e *models.PointsEntry) error
	PointsSummary(ctx context.Context, userID uuid.UUID) (models.PointsSummary, error)
	CreateMemoryLog(ctx context.Context, m *models.MemoryLog) error
	// ListMemoryLogs returns the user's newest logs first; limit <= 0 means all.
	ListMemoryLogs(ctx context.Context, userID uuid.UUID, limit int) ([]models.MemoryLog, error)

	// Support sessions are returned with their messages, oldest first.
	CreateSupportSession(ctx context.Context, s *models.SupportSession) error
	GetSupportSession(ctx context.Context, id uuid.UUID) (*models.SupportSession, error)
	LockSupportSession(ctx context.Context, id uuid.UUID) (*models.SupportSession, error)
	UpdateSupportSession(ctx context.Context, s *models.SupportSession) error
	AddSupportMessage(ctx context.Context, m *models.SupportMessage) error
	ListSupportSessions(ctx context.Context, userID *uuid.UUID) ([]models.SupportSession, error)

	// GetSettings reports ok=false when no settings were ever saved.
	GetSettings(ctx context.Context) (s models.PricingSettings, ok bool, err error)
	SaveSettings(ctx context.Context, s models.PricingSettings) error
}

// Store hands out Queries. Atomic runs fn in a transaction that commits only
// if fn returns nil; Read runs fn against committed data and must not write.
type Store interface {
	Atomic(ctx context.Context, fn func(q Queries) error) error
	Read(ctx context.Context, fn func(q Queries) error) error
	Close()
}
