package journey

import (
	"github.com/google/uuid"

	"etinuxe/internal/models"
)

type Mode string

const (
	ModeNew    Mode = "new"
	ModeResume Mode = "resume"
)

// Session is the workflow a client drives. A new session has no user yet; a
// resumed one carries the account it continues.
type Session struct {
	Mode      Mode      `json:"mode"`
	UserID    uuid.UUID `json:"user_id,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	Stage     Stage     `json:"stage"`
}

func NewSession() Session {
	return Session{Mode: ModeNew, Stage: StageSignup}
}

func ResumeSession(userID uuid.UUID, email string) Session {
	return Session{Mode: ModeResume, UserID: userID, UserEmail: email, Stage: StageVerify}
}

// Sync replaces the session's step with the one derived from a fresh
// overview. Call it after every successful mutation and every refetch.
func (s Session) Sync(o *models.UserOverview) Session {
	if o != nil && o.User != nil {
		s.UserID = o.User.ID
		s.UserEmail = o.User.Email
		if s.Mode == ModeNew {
			s.Mode = ModeResume
		}
	}
	s.Stage = Resolve(o)
	return s
}
