package insurance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"etinuxe/internal/apperr"
	"etinuxe/internal/db"
	"etinuxe/internal/models"
	"etinuxe/internal/payment"
	"etinuxe/pkg/logger"
)

var testNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store   db.Store
	mem     *db.MemoryStore
	svc     *Service
	user    models.User
	request models.MiniaturizationRequest
}

func scenarioSettings() models.PricingSettings {
	s := models.DefaultPricingSettings()
	s.PointsDiscount = models.PointsDiscount{PointsPerDiscountUnit: 100, DiscountPerUnit: 5}
	return s
}

func newFixture(t *testing.T, status models.RequestStatus) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := db.NewMemoryStore()
	f := &fixture{store: mem, mem: mem}
	f.user = models.User{
		ID:                   uuid.New(),
		Email:                "grace@example.com",
		Name:                 "Grace",
		Status:               models.UserVerified,
		HealthScore:          90,
		HealthBucket:         models.BucketGood,
		InitialInsuranceTier: models.TierPremium,
		CreatedAt:            testNow,
	}
	f.request = models.MiniaturizationRequest{
		ID:        uuid.New(),
		UserID:    f.user.ID,
		Scale:     0.10,
		CostUSD:   9000,
		Status:    status,
		CreatedAt: testNow,
	}
	err := mem.Atomic(ctx, func(q db.Queries) error {
		if err := q.CreateUser(ctx, &f.user); err != nil {
			return err
		}
		if err := q.CreateRequest(ctx, &f.request); err != nil {
			return err
		}
		return q.SaveSettings(ctx, scenarioSettings())
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.svc = f.build(mem)
	return f
}

func (f *fixture) build(store db.Store) *Service {
	payments := payment.NewService(store, nil, "usd", logger.NewNop()).WithClock(func() time.Time { return testNow })
	return NewService(store, payments, models.DefaultPricingSettings(), 0, logger.NewNop()).
		WithClock(func() time.Time { return testNow })
}

func (f *fixture) award(t *testing.T, points float64) {
	t.Helper()
	ctx := context.Background()
	err := f.mem.Atomic(ctx, func(q db.Queries) error {
		return q.AddPoints(ctx, &models.PointsEntry{
			ID: uuid.New(), UserID: f.user.ID, Delta: points, Reason: models.PointsReasonMemory, CreatedAt: testNow,
		})
	})
	if err != nil {
		t.Fatalf("award: %v", err)
	}
}

func (f *fixture) points(t *testing.T) models.PointsSummary {
	t.Helper()
	ctx := context.Background()
	var s models.PointsSummary
	err := f.mem.Read(ctx, func(q db.Queries) error {
		var err error
		s, err = q.PointsSummary(ctx, f.user.ID)
		return err
	})
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	return s
}

func (f *fixture) policies(t *testing.T) []models.InsurancePolicy {
	t.Helper()
	ctx := context.Background()
	var out []models.InsurancePolicy
	err := f.mem.Read(ctx, func(q db.Queries) error {
		var err error
		out, err = q.ListRequestPolicies(ctx, f.request.ID)
		return err
	})
	if err != nil {
		t.Fatalf("policies: %v", err)
	}
	return out
}

func (f *fixture) activate(t *testing.T, tier models.Tier, opts Options) *ActivationResult {
	t.Helper()
	res, err := f.svc.Activate(context.Background(), f.user.ID, f.request.ID, tier, opts)
	if err != nil {
		t.Fatalf("Activate(%s): %v", tier, err)
	}
	return res
}

func countStatus(policies []models.InsurancePolicy, status models.PolicyStatus) int {
	n := 0
	for _, p := range policies {
		if p.Status == status {
			n++
		}
	}
	return n
}

func TestActivateImmediateRedeemsPoints(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	f.award(t, 500)

	res := f.activate(t, models.TierBasic, Options{})

	if res.ActivationMode != ModeImmediate || res.NoOp {
		t.Fatalf("mode = %s noop=%v, want immediate", res.ActivationMode, res.NoOp)
	}
	p := res.Policy
	if p.Status != models.PolicyActive || !p.EffectiveAt.Equal(testNow) {
		t.Errorf("policy = %s effective %v", p.Status, p.EffectiveAt)
	}
	if !p.NextBillingAt.Equal(testNow.Add(DefaultBillingCycle)) {
		t.Errorf("next_billing_at = %v", p.NextBillingAt)
	}
	if p.MonthlyPremium != 200 || p.FinalPremium != 175 || p.PointsRedeemed != 500 || p.PointsValueUSD != 25 {
		t.Errorf("pricing = %+v", p)
	}
	if res.Payment == nil || res.Payment.AmountUSD != 175 || res.Payment.Status != models.PaymentCaptured {
		t.Errorf("payment = %+v", res.Payment)
	}
	if res.Payment != nil && (res.Payment.PolicyID == nil || *res.Payment.PolicyID != p.ID) {
		t.Errorf("payment not linked to policy")
	}
	if got := f.points(t); got.AvailablePoints != 0 || got.SpentPoints != 500 {
		t.Errorf("ledger = %+v", got)
	}
}

func TestActivateFullyDiscountedHasNoPayment(t *testing.T) {
	f := newFixture(t, models.RequestCompleted)
	f.award(t, 10000)

	res := f.activate(t, models.TierBasic, Options{})

	if res.Policy.FinalPremium != 0 || res.Policy.PointsRedeemed != 4000 {
		t.Errorf("policy = %+v", res.Policy)
	}
	if res.Payment != nil {
		t.Errorf("unexpected payment %+v", res.Payment)
	}
	if got := f.points(t).AvailablePoints; got != 6000 {
		t.Errorf("available = %v, want 6000", got)
	}
}

func TestActivateDifferentTierIsScheduled(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	basic := f.activate(t, models.TierBasic, Options{})

	res := f.activate(t, models.TierPlus, Options{})

	if res.ActivationMode != ModeScheduled {
		t.Fatalf("mode = %s, want scheduled", res.ActivationMode)
	}
	if res.Policy.Status != models.PolicyScheduled {
		t.Errorf("status = %s", res.Policy.Status)
	}
	if !res.EffectiveAt.Equal(basic.Policy.NextBillingAt) || !res.Policy.EffectiveAt.Equal(basic.Policy.NextBillingAt) {
		t.Errorf("effective_at = %v, want %v", res.EffectiveAt, basic.Policy.NextBillingAt)
	}
	if res.Payment != nil {
		t.Errorf("scheduled activation charged: %+v", res.Payment)
	}

	policies := f.policies(t)
	for _, p := range policies {
		if p.ID == basic.Policy.ID && (p.Status != models.PolicyActive || p.Tier != models.TierBasic) {
			t.Errorf("active policy changed: %+v", p)
		}
	}
	if countStatus(policies, models.PolicyActive) != 1 || countStatus(policies, models.PolicyScheduled) != 1 {
		t.Errorf("policies = %+v", policies)
	}
}

func TestActivateSameTierIsNoOp(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	f.award(t, 300)
	first := f.activate(t, models.TierBasic, Options{})
	f.award(t, 1000)

	second := f.activate(t, models.TierBasic, Options{})

	if !second.NoOp || second.Policy.ID != first.Policy.ID {
		t.Fatalf("second activation = %+v", second)
	}
	if second.Payment != nil || second.Discount.PointsRedeemed != 0 {
		t.Errorf("no-op charged or redeemed: %+v", second)
	}
	if got := f.points(t); got.SpentPoints != 300 || got.AvailablePoints != 1000 {
		t.Errorf("ledger = %+v", got)
	}
	if n := len(f.policies(t)); n != 1 {
		t.Errorf("policy rows = %d, want 1", n)
	}
}

func TestActivateSameScheduledTierIsNoOp(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	f.activate(t, models.TierBasic, Options{})
	scheduled := f.activate(t, models.TierPlus, Options{})

	again := f.activate(t, models.TierPlus, Options{})

	if !again.NoOp || again.Policy.ID != scheduled.Policy.ID || again.ActivationMode != ModeScheduled {
		t.Fatalf("again = %+v", again)
	}
	if n := len(f.policies(t)); n != 2 {
		t.Errorf("policy rows = %d, want 2", n)
	}
}

func TestActivateReplacesScheduledAndRefunds(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	f.activate(t, models.TierBasic, Options{})
	f.award(t, 500)
	plus := f.activate(t, models.TierPlus, Options{})
	if plus.Policy.PointsRedeemed != 500 || plus.Policy.FinalPremium != 275 {
		t.Fatalf("plus = %+v", plus.Policy)
	}

	premium := f.activate(t, models.TierPremium, Options{})

	if premium.ActivationMode != ModeScheduled {
		t.Fatalf("mode = %s", premium.ActivationMode)
	}
	if premium.ReplacedPolicyID == nil || *premium.ReplacedPolicyID != plus.Policy.ID {
		t.Errorf("replaced = %v, want %s", premium.ReplacedPolicyID, plus.Policy.ID)
	}
	if premium.Policy.PointsRedeemed != 500 || premium.Policy.FinalPremium != 575 {
		t.Errorf("premium = %+v", premium.Policy)
	}

	policies := f.policies(t)
	if countStatus(policies, models.PolicyScheduled) != 1 || countStatus(policies, models.PolicyCancelled) != 1 {
		t.Errorf("policies = %+v", policies)
	}
	if got := f.points(t); got.TotalPoints != 500 || got.SpentPoints != 500 || got.AvailablePoints != 0 {
		t.Errorf("ledger = %+v", got)
	}
}

func TestActivateForcedImmediateCancelsBoth(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	basic := f.activate(t, models.TierBasic, Options{})
	f.activate(t, models.TierPlus, Options{})

	res := f.activate(t, models.TierUltra, Options{Immediate: true})

	if res.ActivationMode != ModeImmediate || res.Policy.Status != models.PolicyActive {
		t.Fatalf("res = %+v", res)
	}
	if res.ReplacedPolicyID == nil || *res.ReplacedPolicyID != basic.Policy.ID {
		t.Errorf("replaced = %v, want %s", res.ReplacedPolicyID, basic.Policy.ID)
	}
	policies := f.policies(t)
	if countStatus(policies, models.PolicyActive) != 1 || countStatus(policies, models.PolicyScheduled) != 0 ||
		countStatus(policies, models.PolicyCancelled) != 2 {
		t.Errorf("policies = %+v", policies)
	}
}

func TestActivateRejectsIneligibleRequest(t *testing.T) {
	for _, status := range []models.RequestStatus{models.RequestDraft, models.RequestAwaitingApproval, models.RequestRejected} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, status)
			f.award(t, 500)

			_, err := f.svc.Activate(context.Background(), f.user.ID, f.request.ID, models.TierBasic, Options{})
			if !errors.Is(err, apperr.ErrEligibility) {
				t.Fatalf("expected eligibility error, got %v", err)
			}
			if n := len(f.policies(t)); n != 0 {
				t.Errorf("policy rows = %d", n)
			}
			if got := f.points(t).AvailablePoints; got != 500 {
				t.Errorf("points touched: %v", got)
			}
		})
	}
}

func TestActivateValidatesInput(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	ctx := context.Background()

	if _, err := f.svc.Activate(ctx, f.user.ID, f.request.ID, "platinum", Options{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad tier: %v", err)
	}
	if _, err := f.svc.Activate(ctx, uuid.New(), f.request.ID, models.TierBasic, Options{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown user: %v", err)
	}
	if _, err := f.svc.Activate(ctx, f.user.ID, uuid.New(), models.TierBasic, Options{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown request: %v", err)
	}
}

func TestActivateForeignRequest(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	ctx := context.Background()
	other := models.User{ID: uuid.New(), Email: "other@example.com", Status: models.UserVerified}
	if err := f.mem.Atomic(ctx, func(q db.Queries) error { return q.CreateUser(ctx, &other) }); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Activate(ctx, other.ID, f.request.ID, models.TierBasic, Options{})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// failingQueries breaks one write so the surrounding transaction must roll back.
type failingQueries struct {
	db.Queries
	failPayment  bool
	conflictOnce *int
}

func (q failingQueries) CreatePayment(ctx context.Context, p *models.Payment) error {
	if q.failPayment {
		return errors.New("payments table unavailable")
	}
	return q.Queries.CreatePayment(ctx, p)
}

func (q failingQueries) CreatePolicy(ctx context.Context, p *models.InsurancePolicy) error {
	if q.conflictOnce != nil && *q.conflictOnce > 0 {
		*q.conflictOnce--
		return apperr.Conflict("conflict", "simulated race")
	}
	return q.Queries.CreatePolicy(ctx, p)
}

type wrappedStore struct {
	*db.MemoryStore
	wrap func(db.Queries) db.Queries
}

func (s wrappedStore) Atomic(ctx context.Context, fn func(q db.Queries) error) error {
	return s.MemoryStore.Atomic(ctx, func(q db.Queries) error { return fn(s.wrap(q)) })
}

func TestActivateRollsBackLedgerOnFailure(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	f.award(t, 500)
	svc := f.build(wrappedStore{MemoryStore: f.mem, wrap: func(q db.Queries) db.Queries {
		return failingQueries{Queries: q, failPayment: true}
	}})

	_, err := svc.Activate(context.Background(), f.user.ID, f.request.ID, models.TierBasic, Options{})
	if err == nil {
		t.Fatal("expected failure")
	}
	if n := len(f.policies(t)); n != 0 {
		t.Errorf("policy survived rollback: %d rows", n)
	}
	if got := f.points(t); got.AvailablePoints != 500 || got.SpentPoints != 0 {
		t.Errorf("points spent without a policy: %+v", got)
	}
}

func TestActivateRetriesOnConflict(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	conflicts := 1
	svc := f.build(wrappedStore{MemoryStore: f.mem, wrap: func(q db.Queries) db.Queries {
		return failingQueries{Queries: q, conflictOnce: &conflicts}
	}})

	res, err := svc.Activate(context.Background(), f.user.ID, f.request.ID, models.TierBasic, Options{})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if res.Policy.Status != models.PolicyActive {
		t.Errorf("status = %s", res.Policy.Status)
	}
	if conflicts != 0 {
		t.Errorf("conflict not consumed")
	}
	if n := countStatus(f.policies(t), models.PolicyActive); n != 1 {
		t.Errorf("active policies = %d", n)
	}
}

func TestActivateGivesUpAfterSecondConflict(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	conflicts := 2
	svc := f.build(wrappedStore{MemoryStore: f.mem, wrap: func(q db.Queries) db.Queries {
		return failingQueries{Queries: q, conflictOnce: &conflicts}
	}})

	_, err := svc.Activate(context.Background(), f.user.ID, f.request.ID, models.TierBasic, Options{})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	f.award(t, 500)
	ctx := context.Background()

	pv, err := f.svc.Preview(ctx, f.user.ID, f.request.ID, models.TierBasic)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !pv.Eligible || pv.HasActivePolicy || pv.ActivationMode != ModeImmediate {
		t.Errorf("preview = %+v", pv)
	}
	if pv.Quote.FinalPremium != 175 || pv.Quote.PointsRedeemed != 500 {
		t.Errorf("quote = %+v", pv.Quote)
	}
	if got := f.points(t).AvailablePoints; got != 500 {
		t.Errorf("preview redeemed points: %v", got)
	}

	basic := f.activate(t, models.TierBasic, Options{})
	pv, err = f.svc.Preview(ctx, f.user.ID, f.request.ID, models.TierPlus)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if pv.ActivationMode != ModeScheduled || !pv.EffectiveAt.Equal(basic.Policy.NextBillingAt) {
		t.Errorf("preview = %+v", pv)
	}
	if pv.ActivePolicyTier == nil || *pv.ActivePolicyTier != models.TierBasic {
		t.Errorf("active tier = %v", pv.ActivePolicyTier)
	}

	pv, err = f.svc.Preview(ctx, f.user.ID, f.request.ID, models.TierBasic)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !pv.NoOp || pv.ActivationMode != ModeImmediate || pv.Quote.FinalPremium != basic.Policy.FinalPremium {
		t.Errorf("preview of active tier = %+v", pv)
	}
}

func TestPreviewAgreesWithActivateOnNoOps(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	ctx := context.Background()
	f.activate(t, models.TierBasic, Options{})
	scheduled := f.activate(t, models.TierPlus, Options{})

	cases := []struct {
		tier models.Tier
		mode Mode
	}{
		{models.TierBasic, ModeImmediate},
		{models.TierPlus, ModeScheduled},
	}
	for _, tc := range cases {
		pv, err := f.svc.Preview(ctx, f.user.ID, f.request.ID, tc.tier)
		if err != nil {
			t.Fatalf("Preview(%s): %v", tc.tier, err)
		}
		res := f.activate(t, tc.tier, Options{})
		if !pv.NoOp || !res.NoOp {
			t.Errorf("%s: preview noop=%v, activate noop=%v", tc.tier, pv.NoOp, res.NoOp)
		}
		if pv.ActivationMode != tc.mode || res.ActivationMode != tc.mode {
			t.Errorf("%s: preview mode=%s, activate mode=%s, want %s", tc.tier, pv.ActivationMode, res.ActivationMode, tc.mode)
		}
	}
	if pv, _ := f.svc.Preview(ctx, f.user.ID, f.request.ID, models.TierPlus); !pv.EffectiveAt.Equal(scheduled.Policy.EffectiveAt) {
		t.Errorf("effective = %v, want %v", pv.EffectiveAt, scheduled.Policy.EffectiveAt)
	}
}

func TestPreviewIneligibleIsInformational(t *testing.T) {
	f := newFixture(t, models.RequestAwaitingApproval)

	pv, err := f.svc.Preview(context.Background(), f.user.ID, f.request.ID, models.TierPlus)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if pv.Eligible || pv.RequestStatus != models.RequestAwaitingApproval {
		t.Errorf("preview = %+v", pv)
	}
	if pv.Quote.MonthlyPremium != 300 {
		t.Errorf("monthly = %v, want 300", pv.Quote.MonthlyPremium)
	}
}

func TestActivateInitialRunsOnce(t *testing.T) {
	f := newFixture(t, models.RequestCompleted)
	ctx := context.Background()

	res, err := f.svc.ActivateInitial(ctx, f.user.ID, f.request.ID)
	if err != nil {
		t.Fatalf("ActivateInitial: %v", err)
	}
	if res == nil || res.Policy.Tier != models.TierPremium {
		t.Fatalf("res = %+v", res)
	}

	again, err := f.svc.ActivateInitial(ctx, f.user.ID, f.request.ID)
	if err != nil || again != nil {
		t.Fatalf("second ActivateInitial = %+v, %v", again, err)
	}
	if n := len(f.policies(t)); n != 1 {
		t.Errorf("policy rows = %d", n)
	}
}

func TestActivateInitialKeepsUserChosenTier(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	ctx := context.Background()
	f.award(t, 500)
	chosen := f.activate(t, models.TierPlus, Options{})

	res, err := f.svc.ActivateInitial(ctx, f.user.ID, f.request.ID)
	if err != nil || res != nil {
		t.Fatalf("ActivateInitial = %+v, %v", res, err)
	}

	policies := f.policies(t)
	if len(policies) != 1 || policies[0].ID != chosen.Policy.ID || policies[0].Status != models.PolicyActive {
		t.Fatalf("policies = %+v", policies)
	}
	if countStatus(policies, models.PolicyScheduled) != 0 {
		t.Error("initial tier was scheduled over the chosen one")
	}
	if got := f.points(t); got.SpentPoints != 500 {
		t.Errorf("ledger = %+v, want 500 spent once", got)
	}

	var user *models.User
	err = f.mem.Read(ctx, func(q db.Queries) (err error) {
		user, err = q.GetUser(ctx, f.user.ID)
		return err
	})
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !user.InitialInsuranceActivated {
		t.Error("initial activation flag not set")
	}
}

func TestActivateInitialKeepsScheduledChoice(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	ctx := context.Background()
	f.activate(t, models.TierBasic, Options{})
	f.activate(t, models.TierUltra, Options{})
	before := f.policies(t)

	if res, err := f.svc.ActivateInitial(ctx, f.user.ID, f.request.ID); err != nil || res != nil {
		t.Fatalf("ActivateInitial = %+v, %v", res, err)
	}
	after := f.policies(t)
	if len(after) != len(before) || countStatus(after, models.PolicyCancelled) != 0 {
		t.Errorf("policies changed: %+v", after)
	}
}

type recordingNotifier struct{ got []*ActivationResult }

func (n *recordingNotifier) PolicyActivated(_ context.Context, _ *models.User, res *ActivationResult) {
	n.got = append(n.got, res)
}

func TestNotifierSkipsNoOps(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	n := &recordingNotifier{}
	f.svc.WithNotifier(n)

	f.activate(t, models.TierBasic, Options{})
	f.activate(t, models.TierBasic, Options{})
	f.activate(t, models.TierPlus, Options{})

	if len(n.got) != 2 {
		t.Fatalf("notifications = %d, want 2", len(n.got))
	}
	if n.got[1].ActivationMode != ModeScheduled {
		t.Errorf("second notification mode = %s", n.got[1].ActivationMode)
	}
}

func TestPoliciesOverview(t *testing.T) {
	f := newFixture(t, models.RequestApproved)
	f.activate(t, models.TierBasic, Options{})
	f.activate(t, models.TierPlus, Options{})

	ov, err := f.svc.Policies(context.Background(), f.user.ID)
	if err != nil {
		t.Fatalf("Policies: %v", err)
	}
	if ov.Active == nil || ov.Active.Tier != models.TierBasic || ov.Scheduled == nil || ov.Scheduled.Tier != models.TierPlus {
		t.Errorf("overview = %+v", ov)
	}
	if len(ov.Policies) != 2 {
		t.Errorf("policies = %d", len(ov.Policies))
	}

	all, err := f.svc.AllPolicies(context.Background())
	if err != nil || len(all) != 2 {
		t.Errorf("AllPolicies = %d, %v", len(all), err)
	}
}
