package journey

import (
	"testing"

	"github.com/google/uuid"

	"etinuxe/internal/models"
)

func overviewAt(t *testing.T, steps int) *models.UserOverview {
	t.Helper()
	o := &models.UserOverview{User: &models.User{ID: uuid.New(), Email: "a@b.c", Status: models.UserPendingVerification}}
	fill := []func(){
		func() { o.User.Status = models.UserVerified },
		func() { o.User.BodyProfile = &models.BodyProfile{HeightCM: 170} },
		func() { o.Requests = []models.MiniaturizationRequest{{ID: uuid.New()}} },
		func() { o.Payments = []models.Payment{{ID: uuid.New()}} },
		func() { o.DNATokens = []models.DNAToken{{ID: uuid.New()}} },
		func() { o.MiniaturizationTokens = []models.MiniaturizationToken{{ID: uuid.New()}} },
	}
	for i := 0; i < steps; i++ {
		fill[i]()
	}
	return o
}

func TestResolveOrder(t *testing.T) {
	want := []Stage{StageVerify, StageIntake, StageMini, StagePayment, StageAssessment, StageToken, StageComplete}
	for steps, stage := range want {
		if got := Resolve(overviewAt(t, steps)); got != stage {
			t.Errorf("after %d steps: got=%s want=%s", steps, got, stage)
		}
	}
}

func TestResolveEdgeCases(t *testing.T) {
	if got := Resolve(nil); got != StageSignup {
		t.Fatalf("nil overview: got=%s want=signup", got)
	}
	if got := Resolve(&models.UserOverview{}); got != StageSignup {
		t.Fatalf("overview without user: got=%s want=signup", got)
	}

	verifiedNoProfile := &models.UserOverview{User: &models.User{Status: models.UserVerified}}
	if got := Resolve(verifiedNoProfile); got != StageIntake {
		t.Fatalf("verified without body profile: got=%s want=intake", got)
	}

	// A rejected request still counts as submitted.
	o := overviewAt(t, 3)
	o.Requests[0].Status = models.RequestRejected
	if got := Resolve(o); got != StagePayment {
		t.Fatalf("rejected request: got=%s want=payment", got)
	}

	// Later records do not skip an earlier missing step.
	o = overviewAt(t, 6)
	o.Payments = nil
	if got := Resolve(o); got != StagePayment {
		t.Fatalf("missing payment: got=%s want=payment", got)
	}
}

func TestResolveDeterministic(t *testing.T) {
	o := overviewAt(t, 4)
	first := Resolve(o)
	for i := 0; i < 10; i++ {
		if got := Resolve(o); got != first {
			t.Fatalf("resolve changed between calls: %s vs %s", first, got)
		}
	}
}

func TestStageIndex(t *testing.T) {
	if StageSignup.Index() != 0 || StageComplete.Index() != len(Stages)-1 {
		t.Fatalf("unexpected stage indices")
	}
	if Stage("nope").Index() != -1 {
		t.Fatalf("unknown stage should have index -1")
	}
	if !StageComplete.Terminal() || StageToken.Terminal() {
		t.Fatalf("only complete is terminal")
	}
}
