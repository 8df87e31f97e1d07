// Package onboarding walks a candidate from signup to an issued
// miniaturization token and keeps the memory points ledger.
package onboarding

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"etinuxe/internal/apperr"
	"etinuxe/internal/db"
	"etinuxe/internal/insurance"
	"etinuxe/internal/models"
	"etinuxe/internal/payment"
	"etinuxe/internal/pricing"
	"etinuxe/pkg/logger"
)

const (
	DefaultOTPTTL      = 10 * time.Minute
	PasswordResetTTL   = 30 * time.Minute
	MemoryCooldown     = time.Hour
	MemoryReward       = 100.0
	minPasswordLength  = 8
	defaultHealthScore = 60
)

// Mailer delivers verification codes and password reset links.
type Mailer interface {
	SendOTP(ctx context.Context, user *models.User, code string, expiresAt time.Time) error
	SendPasswordReset(ctx context.Context, user *models.User, token string, expiresAt time.Time) error
}

// Narrator writes a plain-language health summary. Failures fall back to the
// rule-based summary.
type Narrator interface {
	HealthNarrative(ctx context.Context, survey models.HealthSurvey, assessment pricing.HealthAssessment) (string, error)
}

type Service struct {
	store     db.Store
	insurance *insurance.Service
	payments  *payment.Service
	defaults  models.PricingSettings
	mailer    Mailer
	narrator  Narrator
	otpTTL    time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

func NewService(store db.Store, ins *insurance.Service, payments *payment.Service, defaults models.PricingSettings, mailer Mailer, l *logger.Logger) *Service {
	return &Service{
		store:     store,
		insurance: ins,
		payments:  payments,
		defaults:  defaults.Clone(),
		mailer:    mailer,
		otpTTL:    DefaultOTPTTL,
		logger:    l,
		now:       time.Now,
	}
}

func (s *Service) WithNarrator(n Narrator) *Service {
	s.narrator = n
	return s
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type SignupInput struct {
	Email                string               `json:"email"`
	Name                 string               `json:"name"`
	Location             string               `json:"location"`
	Password             string               `json:"password"`
	BodyProfile          *models.BodyProfile  `json:"body_profile"`
	HealthSurvey         *models.HealthSurvey `json:"health_survey"`
	InitialInsuranceTier models.Tier          `json:"initial_insurance_tier"`
}

type SignupResult struct {
	User         *models.User `json:"user"`
	OTPExpiresAt time.Time    `json:"otp_expires_at"`
}

func (in *SignupInput) normalize() error {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.Location = strings.TrimSpace(in.Location)
	if at := strings.Index(in.Email, "@"); at < 1 || at == len(in.Email)-1 {
		return apperr.Validation("invalid_email", "a valid email is required")
	}
	if in.Name == "" {
		return apperr.Validation("invalid_name", "name is required")
	}
	if len(in.Password) < minPasswordLength {
		return apperr.Validation("weak_password", "password must be at least %d characters", minPasswordLength)
	}
	if in.InitialInsuranceTier == "" {
		in.InitialInsuranceTier = models.TierBasic
	}
	if !in.InitialInsuranceTier.Valid() {
		return &pricing.InvalidTierError{Tier: in.InitialInsuranceTier}
	}
	if in.BodyProfile != nil {
		if err := validateBody(in.BodyProfile); err != nil {
			return err
		}
	}
	if in.HealthSurvey != nil {
		if err := pricing.ValidateSurvey(*in.HealthSurvey); err != nil {
			return err
		}
	}
	return nil
}

func validateBody(b *models.BodyProfile) error {
	if b.HeightCM <= 0 || b.HeightCM > 300 {
		return apperr.Validation("invalid_body_profile", "height_cm must be within 0-300")
	}
	if b.WeightKG != nil && (*b.WeightKG <= 0 || *b.WeightKG > 500) {
		return apperr.Validation("invalid_body_profile", "weight_kg must be within 0-500")
	}
	return nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Signup registers a pending user and issues a one-time verification code.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*SignupResult, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	code, err := generateOTP()
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp: %w", err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:                   uuid.New(),
		Email:                in.Email,
		Name:                 in.Name,
		Location:             in.Location,
		PasswordHash:         string(hash),
		Status:               models.UserPendingVerification,
		BodyProfile:          in.BodyProfile,
		HealthScore:          defaultHealthScore,
		HealthBucket:         pricing.BucketForScore(defaultHealthScore),
		InitialInsuranceTier: in.InitialInsuranceTier,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if in.HealthSurvey != nil {
		s.applyAssessment(ctx, user, *in.HealthSurvey)
	}
	otp := &models.OTP{
		ID:        uuid.New(),
		UserID:    user.ID,
		Code:      code,
		ExpiresAt: now.Add(s.otpTTL),
	}

	err = s.store.Atomic(ctx, func(q db.Queries) error {
		if _, err := q.GetUserByEmail(ctx, user.Email); err == nil {
			return apperr.Conflict("email_taken", "email already registered")
		}
		if err := q.CreateUser(ctx, user); err != nil {
			return err
		}
		return q.CreateOTP(ctx, otp)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User signed up", "user_id", user.ID, "tier", user.InitialInsuranceTier)
	if s.mailer != nil {
		if err := s.mailer.SendOTP(ctx, user, code, otp.ExpiresAt); err != nil {
			s.logger.Error("Failed to deliver verification code", "user_id", user.ID, "error", err)
		}
	}
	return &SignupResult{User: user, OTPExpiresAt: otp.ExpiresAt}, nil
}

// Verify consumes a one-time code and marks the user verified.
func (s *Service) Verify(ctx context.Context, userID uuid.UUID, code string) (*models.User, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.Validation("invalid_otp", "verification code is required")
	}

	var user *models.User
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		otp, err := q.FindOTP(ctx, userID, code)
		if err != nil {
			return apperr.Validation("invalid_otp", "invalid verification code")
		}
		if otp.Consumed {
			return apperr.Validation("otp_used", "verification code already used")
		}
		now := s.now().UTC()
		if otp.ExpiresAt.Before(now) {
			return apperr.Validation("otp_expired", "verification code expired")
		}
		user, err = q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		user.Status = models.UserVerified
		user.UpdatedAt = now
		if err := q.UpdateUser(ctx, user); err != nil {
			return err
		}
		return q.ConsumeOTP(ctx, otp.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User verified", "user_id", userID)
	return user, nil
}

// ResendOTP issues a fresh code to a user who has not verified yet. Older
// codes stay valid until they expire.
func (s *Service) ResendOTP(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	code, err := generateOTP()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to generate otp: %w", err)
	}

	var user *models.User
	otp := &models.OTP{ID: uuid.New(), UserID: userID, Code: code, ExpiresAt: s.now().UTC().Add(s.otpTTL)}
	err = s.store.Atomic(ctx, func(q db.Queries) error {
		user, err = q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.Status == models.UserVerified {
			return apperr.Conflict("already_verified", "user is already verified")
		}
		return q.CreateOTP(ctx, otp)
	})
	if err != nil {
		return time.Time{}, err
	}

	if s.mailer != nil {
		if err := s.mailer.SendOTP(ctx, user, code, otp.ExpiresAt); err != nil {
			s.logger.Error("Failed to deliver verification code", "user_id", userID, "error", err)
		}
	}
	return otp.ExpiresAt, nil
}

// Authenticate checks an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	var user *models.User
	err := s.store.Read(ctx, func(q db.Queries) error {
		var err error
		user, err = q.GetUserByEmail(ctx, strings.TrimSpace(email))
		return err
	})
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, apperr.New(apperr.ErrUnauthorized, "bad_credentials", "invalid email or password")
	}
	return user, nil
}

type IntakeInput struct {
	BodyProfile  models.BodyProfile  `json:"body_profile"`
	HealthSurvey models.HealthSurvey `json:"health_survey"`
}

// SubmitIntake records the body profile and re-scores the health survey.
func (s *Service) SubmitIntake(ctx context.Context, userID uuid.UUID, in IntakeInput) (*models.User, error) {
	if err := validateBody(&in.BodyProfile); err != nil {
		return nil, err
	}
	if err := pricing.ValidateSurvey(in.HealthSurvey); err != nil {
		return nil, err
	}

	var user *models.User
	err := s.store.Read(ctx, func(q db.Queries) error {
		var err error
		user, err = q.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	// Scored outside the transaction: the narrator may call out to the network.
	s.applyAssessment(ctx, user, in.HealthSurvey)
	body := in.BodyProfile

	err = s.store.Atomic(ctx, func(q db.Queries) error {
		current, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		current.BodyProfile = &body
		current.HealthScore = user.HealthScore
		current.HealthBucket = user.HealthBucket
		current.HealthSummary = user.HealthSummary
		current.HealthRisks = user.HealthRisks
		current.UpdatedAt = s.now().UTC()
		if err := q.UpdateUser(ctx, current); err != nil {
			return err
		}
		user = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Health intake recorded", "user_id", userID, "score", user.HealthScore, "bucket", user.HealthBucket)
	return user, nil
}

func (s *Service) applyAssessment(ctx context.Context, u *models.User, survey models.HealthSurvey) {
	a := pricing.EvaluateSurvey(survey)
	u.HealthScore = a.Score
	u.HealthBucket = a.Bucket
	u.HealthSummary = a.Summary
	u.HealthRisks = a.Risks

	if s.narrator == nil {
		return
	}
	text, err := s.narrator.HealthNarrative(ctx, survey, a)
	if err != nil {
		s.logger.Warn("Health narrative unavailable, keeping rule-based summary", "user_id", u.ID, "error", err)
		return
	}
	if text = strings.TrimSpace(text); text != "" {
		u.HealthSummary = text
	}
}
