package models

import (
	"time"

	"github.com/google/uuid"
)

type Tier string

const (
	TierBasic   Tier = "basic"
	TierPlus    Tier = "plus"
	TierPremium Tier = "premium"
	TierUltra   Tier = "ultra"
)

var Tiers = []Tier{TierBasic, TierPlus, TierPremium, TierUltra}

func (t Tier) Valid() bool {
	switch t {
	case TierBasic, TierPlus, TierPremium, TierUltra:
		return true
	}
	return false
}

type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "active"
	PolicyScheduled PolicyStatus = "scheduled"
	PolicyCancelled PolicyStatus = "cancelled"
)

type InsurancePolicy struct {
	ID               uuid.UUID    `json:"id"`
	UserID           uuid.UUID    `json:"user_id"`
	RequestID        uuid.UUID    `json:"request_id"`
	Tier             Tier         `json:"tier"`
	Scale            float64      `json:"scale"`
	Steps            int          `json:"steps"`
	BaseRatePerStep  float64      `json:"base_rate_per_step"`
	HealthBucket     HealthBucket `json:"health_bucket"`
	BucketMultiplier float64      `json:"bucket_multiplier"`
	PointsRedeemed   float64      `json:"points_redeemed"`
	PointsValueUSD   float64      `json:"points_value_usd"`
	MonthlyPremium   float64      `json:"monthly_premium"`
	FinalPremium     float64      `json:"final_premium"`
	Status           PolicyStatus `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	EffectiveAt      time.Time    `json:"effective_at"`
	NextBillingAt    time.Time    `json:"next_billing_at"`
	LastBilledAt     *time.Time   `json:"last_billed_at,omitempty"`
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentCaptured PaymentStatus = "captured"
	PaymentFailed   PaymentStatus = "failed"
)

type PaymentKind string

const (
	PaymentProcedure PaymentKind = "procedure"
	PaymentInsurance PaymentKind = "insurance"
)

type Payment struct {
	ID          uuid.UUID     `json:"id"`
	UserID      uuid.UUID     `json:"user_id"`
	RequestID   uuid.UUID     `json:"request_id"`
	PolicyID    *uuid.UUID    `json:"policy_id,omitempty"`
	Kind        PaymentKind   `json:"kind"`
	AmountUSD   float64       `json:"amount_usd"`
	Currency    string        `json:"currency"`
	Status      PaymentStatus `json:"status"`
	ExternalRef string        `json:"external_ref,omitempty"`
	CheckoutURL string        `json:"checkout_url,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	PaidAt      *time.Time    `json:"paid_at,omitempty"`
}

// PointsEntry is one row of the memory points ledger. Awards are positive, redemptions negative.
type PointsEntry struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Delta     float64    `json:"delta"`
	Reason    string     `json:"reason"`
	PolicyID  *uuid.UUID `json:"policy_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

const (
	PointsReasonMemory     = "memory_log"
	PointsReasonRedemption = "insurance_redemption"
	// PointsReasonRefund returns points redeemed by a scheduled policy that was
	// replaced before it took effect.
	PointsReasonRefund = "insurance_refund"
)

// IsSpend reports whether a ledger reason counts against spent points rather
// than awarded ones.
func IsSpend(reason string) bool {
	return reason == PointsReasonRedemption || reason == PointsReasonRefund
}

type PointsSummary struct {
	TotalPoints     float64 `json:"total_points"`
	AvailablePoints float64 `json:"available_points"`
	SpentPoints     float64 `json:"spent_points"`
}
