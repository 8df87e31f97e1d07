// Package support runs the help desk: users open sessions, staff answer and
// resolve them.
package support

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"etinuxe/internal/apperr"
	"etinuxe/internal/db"
	"etinuxe/internal/models"
	"etinuxe/pkg/logger"
)

const (
	minSubject = 3
	maxSubject = 140
	maxBody    = 2000
)

// Notifier hears about newly opened sessions.
type Notifier interface {
	SupportSessionOpened(ctx context.Context, user *models.User, sess *models.SupportSession)
}

type Service struct {
	store    db.Store
	notifier Notifier
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(store db.Store, l *logger.Logger) *Service {
	return &Service{store: store, logger: l, now: time.Now}
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

func cleanBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" || utf8.RuneCountInString(body) > maxBody {
		return "", apperr.Validation("invalid_message", "message must be 1-%d characters", maxBody)
	}
	return body, nil
}

func cleanAdminName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("invalid_admin_name", "admin_name is required")
	}
	return name, nil
}

// ownSession hides other users' sessions behind not found.
func ownSession(ctx context.Context, q db.Queries, userID, sessionID uuid.UUID) (*models.SupportSession, error) {
	sess, err := q.LockSupportSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, apperr.NotFound("session_not_found", "support session not found")
	}
	return sess, nil
}

func list(ctx context.Context, store db.Store, userID *uuid.UUID) ([]models.SupportSession, error) {
	var out []models.SupportSession
	err := store.Read(ctx, func(q db.Queries) (err error) {
		if userID != nil {
			if _, err := q.GetUser(ctx, *userID); err != nil {
				return err
			}
		}
		out, err = q.ListSupportSessions(ctx, userID)
		return err
	})
	if out == nil {
		out = []models.SupportSession{}
	}
	return out, err
}

// ListForUser returns the user's sessions, most recently active first.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.SupportSession, error) {
	return list(ctx, s.store, &userID)
}

// ListAll returns every session for staff.
func (s *Service) ListAll(ctx context.Context) ([]models.SupportSession, error) {
	return list(ctx, s.store, nil)
}

type OpenInput struct {
	Subject  string `json:"subject"`
	Message  string `json:"message"`
	Distress bool   `json:"distress"`
}

// Open starts a session with the user's first message.
func (s *Service) Open(ctx context.Context, userID uuid.UUID, in OpenInput) (*models.SupportSession, error) {
	subject := strings.TrimSpace(in.Subject)
	if n := utf8.RuneCountInString(subject); n < minSubject || n > maxSubject {
		return nil, apperr.Validation("invalid_subject", "subject must be %d-%d characters", minSubject, maxSubject)
	}
	body, err := cleanBody(in.Message)
	if err != nil {
		return nil, err
	}

	var (
		user *models.User
		sess *models.SupportSession
	)
	err = s.store.Atomic(ctx, func(q db.Queries) error {
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		user = u
		now := s.now().UTC()
		sess = &models.SupportSession{
			ID:        uuid.New(),
			UserID:    userID,
			Subject:   subject,
			Distress:  in.Distress,
			Status:    models.SupportOpen,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := q.CreateSupportSession(ctx, sess); err != nil {
			return err
		}
		msg := models.SupportMessage{
			ID:         uuid.New(),
			SessionID:  sess.ID,
			SenderRole: models.SenderUser,
			SenderID:   &u.ID,
			SenderName: u.Name,
			Body:       body,
			CreatedAt:  now,
		}
		if err := q.AddSupportMessage(ctx, &msg); err != nil {
			return err
		}
		sess.Messages = []models.SupportMessage{msg}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Support session opened", "session_id", sess.ID, "user_id", userID, "distress", sess.Distress)
	if s.notifier != nil {
		s.notifier.SupportSessionOpened(ctx, user, sess)
	}
	return sess, nil
}

// post appends a message and returns the refreshed session.
func (s *Service) post(ctx context.Context, q db.Queries, sess *models.SupportSession, msg models.SupportMessage) (*models.SupportSession, error) {
	now := s.now().UTC()
	msg.ID = uuid.New()
	msg.SessionID = sess.ID
	msg.CreatedAt = now
	if err := q.AddSupportMessage(ctx, &msg); err != nil {
		return nil, err
	}
	sess.UpdatedAt = now
	if err := q.UpdateSupportSession(ctx, sess); err != nil {
		return nil, err
	}
	return q.GetSupportSession(ctx, sess.ID)
}

// PostUserMessage adds a user reply to one of their open sessions.
func (s *Service) PostUserMessage(ctx context.Context, userID, sessionID uuid.UUID, body string) (*models.SupportSession, error) {
	body, err := cleanBody(body)
	if err != nil {
		return nil, err
	}

	var out *models.SupportSession
	err = s.store.Atomic(ctx, func(q db.Queries) error {
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		sess, err := ownSession(ctx, q, userID, sessionID)
		if err != nil {
			return err
		}
		if sess.Status == models.SupportResolved {
			return apperr.Conflict("session_resolved", "support session is resolved")
		}
		out, err = s.post(ctx, q, sess, models.SupportMessage{
			SenderRole: models.SenderUser,
			SenderID:   &u.ID,
			SenderName: u.Name,
			Body:       body,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close resolves the user's session. Closing a resolved session is a no-op.
func (s *Service) Close(ctx context.Context, userID, sessionID uuid.UUID) (*models.SupportSession, error) {
	var out *models.SupportSession
	err := s.store.Atomic(ctx, func(q db.Queries) error {
		sess, err := ownSession(ctx, q, userID, sessionID)
		if err != nil {
			return err
		}
		out = sess
		if sess.Status == models.SupportResolved {
			return nil
		}
		now := s.now().UTC()
		sess.Status = models.SupportResolved
		sess.ClosedAt = &now
		sess.UpdatedAt = now
		return q.UpdateSupportSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Support session closed", "session_id", sessionID, "user_id", userID)
	return out, nil
}

// PostStaffMessage answers a session. An open session becomes assigned to the
// answering staff member.
func (s *Service) PostStaffMessage(ctx context.Context, sessionID uuid.UUID, adminName, body string) (*models.SupportSession, error) {
	adminName, err := cleanAdminName(adminName)
	if err != nil {
		return nil, err
	}
	if body, err = cleanBody(body); err != nil {
		return nil, err
	}

	var out *models.SupportSession
	err = s.store.Atomic(ctx, func(q db.Queries) error {
		sess, err := q.LockSupportSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status == models.SupportResolved {
			return apperr.Conflict("session_resolved", "support session is resolved")
		}
		if sess.Status == models.SupportOpen {
			sess.Status = models.SupportAssigned
			sess.AssignedTo = adminName
		}
		out, err = s.post(ctx, q, sess, models.SupportMessage{
			SenderRole: models.SenderStaff,
			SenderName: adminName,
			Body:       body,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Support reply sent", "session_id", sessionID, "admin", adminName)
	return out, nil
}

type AdminUpdateInput struct {
	AdminName    string                `json:"admin_name"`
	Status       *models.SupportStatus `json:"status"`
	AssignedName *string               `json:"assigned_admin_name"`
}

// AdminUpdate changes a session's status or assignee. Resolving stamps
// closed_at and any other status clears it. Reopening without an assignee
// clears the assignment.
func (s *Service) AdminUpdate(ctx context.Context, sessionID uuid.UUID, in AdminUpdateInput) (*models.SupportSession, error) {
	adminName, err := cleanAdminName(in.AdminName)
	if err != nil {
		return nil, err
	}
	if in.Status != nil && !in.Status.Valid() {
		return nil, apperr.Validation("invalid_status", "status must be open, assigned or resolved")
	}
	assignee := ""
	if in.AssignedName != nil {
		if assignee = strings.TrimSpace(*in.AssignedName); assignee == "" {
			return nil, apperr.Validation("invalid_admin_name", "assigned_admin_name cannot be empty")
		}
	}

	var out *models.SupportSession
	err = s.store.Atomic(ctx, func(q db.Queries) error {
		sess, err := q.LockSupportSession(ctx, sessionID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if in.Status != nil {
			sess.Status = *in.Status
			if sess.Status == models.SupportResolved {
				sess.ClosedAt = &now
			} else {
				sess.ClosedAt = nil
			}
		}
		switch {
		case assignee != "":
			sess.AssignedTo = assignee
		case in.Status != nil && *in.Status == models.SupportAssigned:
			sess.AssignedTo = adminName
		case in.Status != nil && *in.Status == models.SupportOpen:
			sess.AssignedTo = ""
		}
		sess.UpdatedAt = now
		if err := q.UpdateSupportSession(ctx, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Support session updated", "session_id", sessionID, "admin", adminName, "status", out.Status)
	return out, nil
}
