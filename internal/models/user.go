// internal/models/user.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserPendingVerification UserStatus = "pending_verification"
	UserVerified            UserStatus = "verified"
)

type HealthBucket string

const (
	BucketGood               HealthBucket = "good"
	BucketNormal             HealthBucket = "normal"
	BucketUnhealthy          HealthBucket = "unhealthy"
	BucketExtremelyUnhealthy HealthBucket = "extremely_unhealthy"
)

// HealthBuckets lists every bucket from healthiest to least healthy.
var HealthBuckets = []HealthBucket{BucketGood, BucketNormal, BucketUnhealthy, BucketExtremelyUnhealthy}

func (b HealthBucket) Valid() bool {
	switch b {
	case BucketGood, BucketNormal, BucketUnhealthy, BucketExtremelyUnhealthy:
		return true
	}
	return false
}

type BodyProfile struct {
	HeightCM  float64  `json:"height_cm"`
	WeightKG  *float64 `json:"weight_kg,omitempty"`
	BloodType string   `json:"blood_type,omitempty"`
	Allergies []string `json:"allergies,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

type HealthSurvey struct {
	SleepHours               float64 `json:"sleep_hours"`
	ExerciseMinutesPerWeek   int     `json:"exercise_minutes_per_week"`
	DietQuality              int     `json:"diet_quality"`
	StressLevel              int     `json:"stress_level"`
	ChronicCondition         bool    `json:"chronic_condition"`
	AlcoholUnitsPerWeek      int     `json:"alcohol_units_per_week"`
	Smoker                   bool    `json:"smoker"`
	MeditationMinutesPerWeek int     `json:"meditation_minutes_per_week"`
	HydrationLitersPerDay    float64 `json:"hydration_liters_per_day"`
}

type User struct {
	ID                        uuid.UUID    `json:"id"`
	Email                     string       `json:"email"`
	Name                      string       `json:"name"`
	Location                  string       `json:"location,omitempty"`
	PasswordHash              string       `json:"-"`
	Status                    UserStatus   `json:"status"`
	BodyProfile               *BodyProfile `json:"body_profile"`
	HealthScore               int          `json:"health_score"`
	HealthBucket              HealthBucket `json:"health_bucket"`
	HealthSummary             string       `json:"health_summary,omitempty"`
	HealthRisks               []string     `json:"health_risks,omitempty"`
	InitialInsuranceTier      Tier         `json:"initial_insurance_tier"`
	InitialInsuranceActivated bool         `json:"initial_insurance_activated"`
	CreatedAt                 time.Time    `json:"created_at"`
	UpdatedAt                 time.Time    `json:"updated_at"`
}

type OTP struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// PasswordReset is a single-use token mailed to the account owner.
type PasswordReset struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}
