// Package insurance quotes and activates monthly insurance policies against
// miniaturization requests.
package insurance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"etinuxe/internal/apperr"
	"etinuxe/internal/db"
	"etinuxe/internal/models"
	"etinuxe/internal/payment"
	"etinuxe/internal/pricing"
	"etinuxe/internal/settings"
	"etinuxe/pkg/logger"
)

type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeScheduled Mode = "scheduled"
)

// DefaultBillingCycle is used when the service is built with a zero cycle.
const DefaultBillingCycle = 30 * 24 * time.Hour

// Notifier hears about every activation that changed state.
type Notifier interface {
	PolicyActivated(ctx context.Context, user *models.User, res *ActivationResult)
}

type Options struct {
	// Immediate starts the new tier now even when another tier is active.
	Immediate bool
}

type Discount struct {
	PointsRedeemed  float64 `json:"points_redeemed"`
	ValueUSD        float64 `json:"value_usd"`
	PointsAvailable float64 `json:"points_available"`
}

type ActivationResult struct {
	Policy           *models.InsurancePolicy `json:"policy"`
	Payment          *models.Payment         `json:"payment,omitempty"`
	Discount         Discount                `json:"discount"`
	Pricing          pricing.Quote           `json:"pricing"`
	ReplacedPolicyID *uuid.UUID              `json:"replaced_policy_id,omitempty"`
	ActivationMode   Mode                    `json:"activation_mode"`
	EffectiveAt      *time.Time              `json:"effective_at,omitempty"`
	NoOp             bool                    `json:"noop"`
}

type Preview struct {
	Quote               pricing.Quote        `json:"quote"`
	Eligible            bool                 `json:"eligible"`
	RequestStatus       models.RequestStatus `json:"request_status"`
	HasActivePolicy     bool                 `json:"has_active_policy"`
	ActivePolicyTier    *models.Tier         `json:"active_policy_tier,omitempty"`
	ActivationMode      Mode                 `json:"activation_mode"`
	EffectiveAt         *time.Time           `json:"effective_at,omitempty"`
	ScheduledPolicyTier *models.Tier         `json:"scheduled_policy_tier,omitempty"`
	// NoOp is set when the tier is already active or already scheduled.
	NoOp bool `json:"noop"`
}

type Service struct {
	store    db.Store
	payments *payment.Service
	defaults models.PricingSettings
	cycle    time.Duration
	notifier Notifier
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(store db.Store, payments *payment.Service, defaults models.PricingSettings, cycle time.Duration, l *logger.Logger) *Service {
	if cycle <= 0 {
		cycle = DefaultBillingCycle
	}
	return &Service{
		store:    store,
		payments: payments,
		defaults: defaults.Clone(),
		cycle:    cycle,
		logger:   l,
		now:      time.Now,
	}
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// slots is the policy state of one request.
type slots struct {
	active    *models.InsurancePolicy
	scheduled *models.InsurancePolicy
}

func loadSlots(ctx context.Context, q db.Queries, requestID uuid.UUID) (slots, error) {
	policies, err := q.ListRequestPolicies(ctx, requestID)
	if err != nil {
		return slots{}, err
	}
	var out slots
	for i := range policies {
		p := policies[i]
		switch p.Status {
		case models.PolicyActive:
			out.active = &p
		case models.PolicyScheduled:
			out.scheduled = &p
		}
	}
	return out, nil
}

// decision is what activating tier against the current slots would do.
type decision struct {
	mode Mode
	// noop means existing already holds the tier; mode is then existing's.
	noop        bool
	existing    *models.InsurancePolicy
	effectiveAt time.Time
	// cancel lists the policies the new one supersedes, active first.
	cancel []*models.InsurancePolicy
	// refund is the points held by a scheduled policy that gets replaced.
	refund float64
}

func decide(sl slots, tier models.Tier, opts Options, now time.Time) decision {
	if sl.active != nil && sl.active.Tier == tier {
		return decision{mode: ModeImmediate, noop: true, existing: sl.active, effectiveAt: sl.active.EffectiveAt}
	}
	if !opts.Immediate && sl.scheduled != nil && sl.scheduled.Tier == tier {
		return decision{mode: ModeScheduled, noop: true, existing: sl.scheduled, effectiveAt: sl.scheduled.EffectiveAt}
	}

	d := decision{mode: ModeImmediate, effectiveAt: now}
	if sl.active != nil && !opts.Immediate {
		d.mode = ModeScheduled
		d.effectiveAt = sl.active.NextBillingAt
	}
	if d.mode == ModeImmediate && sl.active != nil {
		d.cancel = append(d.cancel, sl.active)
	}
	if sl.scheduled != nil {
		d.cancel = append(d.cancel, sl.scheduled)
		d.refund = sl.scheduled.PointsRedeemed
	}
	return d
}

func bucketFor(u *models.User) models.HealthBucket {
	if u.HealthBucket.Valid() {
		return u.HealthBucket
	}
	return models.BucketNormal
}

func ownedRequest(r *models.MiniaturizationRequest, userID uuid.UUID) error {
	if r.UserID != userID {
		return apperr.NotFound("request_not_found", "miniaturization request %s not found for user", r.ID)
	}
	return nil
}

// Preview prices tier for a request and reports what Activate would do,
// without changing anything.
func (s *Service) Preview(ctx context.Context, userID, requestID uuid.UUID, tier models.Tier) (*Preview, error) {
	if !tier.Valid() {
		return nil, &pricing.InvalidTierError{Tier: tier}
	}

	var out *Preview
	err := s.store.Read(ctx, func(q db.Queries) error {
		user, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		req, err := q.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := ownedRequest(req, userID); err != nil {
			return err
		}
		cfg, err := settings.Current(ctx, q, s.defaults)
		if err != nil {
			return err
		}
		sl, err := loadSlots(ctx, q, requestID)
		if err != nil {
			return err
		}
		points, err := q.PointsSummary(ctx, userID)
		if err != nil {
			return err
		}

		d := decide(sl, tier, Options{}, s.now().UTC())
		var quote pricing.Quote
		if d.noop {
			quote = quoteOf(d.existing)
			quote.PointsAvailable = points.AvailablePoints
		} else {
			quote, err = pricing.Calculate(req, tier, cfg, bucketFor(user), points.AvailablePoints+d.refund)
			if err != nil {
				return err
			}
		}

		eff := d.effectiveAt
		out = &Preview{
			Quote:           quote,
			Eligible:        req.Status.Insurable(),
			RequestStatus:   req.Status,
			HasActivePolicy: sl.active != nil,
			ActivationMode:  d.mode,
			EffectiveAt:     &eff,
			NoOp:            d.noop,
		}
		if sl.active != nil {
			t := sl.active.Tier
			out.ActivePolicyTier = &t
		}
		if sl.scheduled != nil {
			t := sl.scheduled.Tier
			out.ScheduledPolicyTier = &t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Activate applies tier to the request. See decide for the immediate,
// scheduled and unchanged cases. Points are redeemed in the same transaction
// as the policy rows. A lost race on the one-active/one-scheduled indexes is
// retried once against fresh state.
func (s *Service) Activate(ctx context.Context, userID, requestID uuid.UUID, tier models.Tier, opts Options) (*ActivationResult, error) {
	if !tier.Valid() {
		return nil, &pricing.InvalidTierError{Tier: tier}
	}

	var (
		res  *ActivationResult
		user *models.User
	)
	attempt := func() error {
		return s.store.Atomic(ctx, func(q db.Queries) error {
			var err error
			user, res, err = s.activateTx(ctx, q, userID, requestID, tier, opts)
			return err
		})
	}

	err := attempt()
	if errors.Is(err, apperr.ErrConflict) {
		s.logger.Warn("Activation lost a race, retrying",
			"user_id", userID, "request_id", requestID, "tier", tier)
		err = attempt()
	}
	if err != nil {
		if errors.Is(err, apperr.ErrEligibility) {
			s.logger.Info("Activation refused", "user_id", userID, "request_id", requestID, "reason", err)
		} else {
			s.logger.Error("Activation failed", "user_id", userID, "request_id", requestID, "tier", tier, "error", err)
		}
		return nil, err
	}

	s.afterCommit(ctx, user, res)
	return res, nil
}

// ActivateInitial activates the tier the user picked at signup once their
// request is insurable. It runs at most once per user.
func (s *Service) ActivateInitial(ctx context.Context, userID, requestID uuid.UUID) (*ActivationResult, error) {
	var (
		res  *ActivationResult
		user *models.User
	)
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return err
		}
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.InitialInsuranceActivated {
			return nil
		}
		u.InitialInsuranceActivated = true
		u.UpdatedAt = s.now().UTC()

		if _, err := q.LockRequest(ctx, requestID); err != nil {
			return err
		}
		sl, err := loadSlots(ctx, q, requestID)
		if err != nil {
			return err
		}
		if sl.active != nil || sl.scheduled != nil {
			// The user already chose a tier for this request.
			return q.UpdateUser(ctx, u)
		}

		tier := u.InitialInsuranceTier
		if !tier.Valid() {
			tier = models.TierBasic
		}
		user, res, err = s.activateTx(ctx, q, userID, requestID, tier, Options{})
		if err != nil {
			return err
		}
		return q.UpdateUser(ctx, u)
	})
	if err != nil {
		s.logger.Error("Initial insurance activation failed", "user_id", userID, "request_id", requestID, "error", err)
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	s.afterCommit(ctx, user, res)
	return res, nil
}

func (s *Service) activateTx(ctx context.Context, q db.Queries, userID, requestID uuid.UUID, tier models.Tier, opts Options) (*models.User, *ActivationResult, error) {
	if err := q.LockUser(ctx, userID); err != nil {
		return nil, nil, err
	}
	req, err := q.LockRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if err := ownedRequest(req, userID); err != nil {
		return nil, nil, err
	}
	if !req.Status.Insurable() {
		return nil, nil, apperr.Eligibility("request_not_eligible",
			"request %s is %s; insurance needs an approved or completed request", req.ID, req.Status)
	}
	user, err := q.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := settings.Current(ctx, q, s.defaults)
	if err != nil {
		return nil, nil, err
	}
	sl, err := loadSlots(ctx, q, requestID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	d := decide(sl, tier, opts, now)
	if d.noop {
		eff := d.effectiveAt
		return user, &ActivationResult{
			Policy:         d.existing,
			Pricing:        quoteOf(d.existing),
			ActivationMode: d.mode,
			EffectiveAt:    &eff,
			NoOp:           true,
		}, nil
	}

	res := &ActivationResult{ActivationMode: d.mode}
	for _, old := range d.cancel {
		old.Status = models.PolicyCancelled
		if err := q.UpdatePolicy(ctx, old); err != nil {
			return nil, nil, err
		}
		if res.ReplacedPolicyID == nil {
			id := old.ID
			res.ReplacedPolicyID = &id
		}
	}
	if d.refund > 0 {
		scheduled := d.cancel[len(d.cancel)-1].ID
		if err := q.AddPoints(ctx, &models.PointsEntry{
			ID:        uuid.New(),
			UserID:    userID,
			Delta:     d.refund,
			Reason:    models.PointsReasonRefund,
			PolicyID:  &scheduled,
			CreatedAt: now,
		}); err != nil {
			return nil, nil, err
		}
	}

	points, err := q.PointsSummary(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	quote, err := pricing.Calculate(req, tier, cfg, bucketFor(user), points.AvailablePoints)
	if err != nil {
		return nil, nil, err
	}

	policy := &models.InsurancePolicy{
		ID:               uuid.New(),
		UserID:           userID,
		RequestID:        requestID,
		Tier:             tier,
		Scale:            quote.Scale,
		Steps:            quote.Steps,
		BaseRatePerStep:  quote.BaseRatePerStep,
		HealthBucket:     quote.HealthBucket,
		BucketMultiplier: quote.BucketMultiplier,
		PointsRedeemed:   quote.PointsRedeemed,
		PointsValueUSD:   quote.DiscountValueUSD,
		MonthlyPremium:   quote.MonthlyPremium,
		FinalPremium:     quote.FinalPremium,
		CreatedAt:        now,
		EffectiveAt:      d.effectiveAt,
	}
	if d.mode == ModeImmediate {
		policy.Status = models.PolicyActive
		policy.NextBillingAt = now.Add(s.cycle)
		policy.LastBilledAt = &now
	} else {
		policy.Status = models.PolicyScheduled
		policy.NextBillingAt = d.effectiveAt
	}
	if err := q.CreatePolicy(ctx, policy); err != nil {
		return nil, nil, err
	}

	if quote.PointsRedeemed > 0 {
		if points.AvailablePoints < quote.PointsRedeemed {
			return nil, nil, &apperr.Error{
				Kind: apperr.ErrLedgerInsufficient,
				Code: "insufficient_points",
				Err:  fmt.Errorf("need %.0f points, have %.0f", quote.PointsRedeemed, points.AvailablePoints),
			}
		}
		if err := q.AddPoints(ctx, &models.PointsEntry{
			ID:        uuid.New(),
			UserID:    userID,
			Delta:     -quote.PointsRedeemed,
			Reason:    models.PointsReasonRedemption,
			PolicyID:  &policy.ID,
			CreatedAt: now,
		}); err != nil {
			return nil, nil, err
		}
	}

	if d.mode == ModeImmediate && quote.FinalPremium > 0 && s.payments != nil {
		p := s.payments.New(userID, requestID, &policy.ID, models.PaymentInsurance, quote.FinalPremium)
		if err := q.CreatePayment(ctx, p); err != nil {
			return nil, nil, err
		}
		res.Payment = p
	}

	eff := d.effectiveAt
	res.Policy = policy
	res.Pricing = quote
	res.EffectiveAt = &eff
	res.Discount = Discount{
		PointsRedeemed:  quote.PointsRedeemed,
		ValueUSD:        quote.DiscountValueUSD,
		PointsAvailable: points.AvailablePoints - quote.PointsRedeemed,
	}
	return user, res, nil
}

func (s *Service) afterCommit(ctx context.Context, user *models.User, res *ActivationResult) {
	if res.NoOp {
		return
	}
	s.logger.Info("Insurance policy activated",
		"user_id", res.Policy.UserID,
		"request_id", res.Policy.RequestID,
		"policy_id", res.Policy.ID,
		"tier", res.Policy.Tier,
		"mode", res.ActivationMode,
		"final_premium", res.Policy.FinalPremium,
		"points_redeemed", res.Policy.PointsRedeemed)

	if res.Payment != nil && s.payments != nil {
		desc := fmt.Sprintf("%s insurance, first month", res.Policy.Tier)
		if err := s.payments.StartCheckout(ctx, res.Payment, desc); err != nil {
			s.logger.Warn("Insurance payment left pending without checkout", "payment_id", res.Payment.ID, "error", err)
		}
	}
	if s.notifier != nil {
		s.notifier.PolicyActivated(ctx, user, res)
	}
}

func quoteOf(p *models.InsurancePolicy) pricing.Quote {
	return pricing.Quote{
		Tier:             p.Tier,
		Scale:            p.Scale,
		Steps:            p.Steps,
		BaseRatePerStep:  p.BaseRatePerStep,
		HealthBucket:     p.HealthBucket,
		BucketMultiplier: p.BucketMultiplier,
		MonthlyPremium:   p.MonthlyPremium,
		FinalPremium:     p.FinalPremium,
		PointsRedeemed:   p.PointsRedeemed,
		DiscountValueUSD: p.PointsValueUSD,
	}
}

type PolicyOverview struct {
	Active    *models.InsurancePolicy  `json:"active,omitempty"`
	Scheduled *models.InsurancePolicy  `json:"scheduled,omitempty"`
	Policies  []models.InsurancePolicy `json:"policies"`
	Points    models.PointsSummary     `json:"points"`
}

// Policies lists a user's policies with the current active and scheduled ones
// picked out.
func (s *Service) Policies(ctx context.Context, userID uuid.UUID) (*PolicyOverview, error) {
	out := &PolicyOverview{}
	err := s.store.Read(ctx, func(q db.Queries) error {
		if _, err := q.GetUser(ctx, userID); err != nil {
			return err
		}
		policies, err := q.ListPolicies(ctx, &userID)
		if err != nil {
			return err
		}
		out.Policies = policies
		for i := range policies {
			p := policies[i]
			switch p.Status {
			case models.PolicyActive:
				out.Active = &p
			case models.PolicyScheduled:
				out.Scheduled = &p
			}
		}
		out.Points, err = q.PointsSummary(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.Policies == nil {
		out.Policies = []models.InsurancePolicy{}
	}
	return out, nil
}

// AllPolicies lists every policy for the admin console.
func (s *Service) AllPolicies(ctx context.Context) ([]models.InsurancePolicy, error) {
	var out []models.InsurancePolicy
	err := s.store.Read(ctx, func(q db.Queries) error {
		var err error
		out, err = q.ListPolicies(ctx, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	if out == nil {
		out = []models.InsurancePolicy{}
	}
	return out, nil
}
