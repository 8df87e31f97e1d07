// Package journey derives which onboarding step a user is on from the records
// the backend holds for them.
package journey

import "etinuxe/internal/models"

type Stage string

const (
	StageSignup     Stage = "signup"
	StageVerify     Stage = "verify"
	StageIntake     Stage = "intake"
	StageMini       Stage = "mini"
	StagePayment    Stage = "payment"
	StageAssessment Stage = "assessment"
	StageToken      Stage = "token"
	StageComplete   Stage = "complete"
)

var Stages = []Stage{
	StageSignup, StageVerify, StageIntake, StageMini,
	StagePayment, StageAssessment, StageToken, StageComplete,
}

// Resolve returns the first unmet step. A nil overview (no account yet) is at
// signup. Rejected requests still count as submitted.
func Resolve(o *models.UserOverview) Stage {
	switch {
	case o == nil || o.User == nil:
		return StageSignup
	case o.User.Status != models.UserVerified:
		return StageVerify
	case o.User.BodyProfile == nil:
		return StageIntake
	case len(o.Requests) == 0:
		return StageMini
	case len(o.Payments) == 0:
		return StagePayment
	case len(o.DNATokens) == 0:
		return StageAssessment
	case len(o.MiniaturizationTokens) == 0:
		return StageToken
	default:
		return StageComplete
	}
}

// Index is the stage's position in Stages, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Terminal() bool { return s == StageComplete }
