package support

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"etinuxe/internal/apperr"
	"etinuxe/internal/db"
	"etinuxe/internal/models"
	"etinuxe/pkg/logger"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type opened struct {
	sessions []*models.SupportSession
}

func (o *opened) SupportSessionOpened(_ context.Context, _ *models.User, sess *models.SupportSession) {
	o.sessions = append(o.sessions, sess)
}

type harness struct {
	svc   *Service
	clock *clock
	seen  *opened
	user  *models.User
	other *models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()
	h := &harness{
		clock: &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
		seen:  &opened{},
		user:  &models.User{ID: uuid.New(), Email: "ada@example.com", Name: "Ada"},
		other: &models.User{ID: uuid.New(), Email: "bob@example.com", Name: "Bob"},
	}
	err := store.Atomic(ctx, func(q db.Queries) error {
		if err := q.CreateUser(ctx, h.user); err != nil {
			return err
		}
		return q.CreateUser(ctx, h.other)
	})
	if err != nil {
		t.Fatalf("seed users: %v", err)
	}
	h.svc = NewService(store, logger.NewNop()).WithClock(h.clock.now).WithNotifier(h.seen)
	return h
}

func (h *harness) open(t *testing.T) *models.SupportSession {
	t.Helper()
	sess, err := h.svc.Open(context.Background(), h.user.ID, OpenInput{Subject: "Scale question", Message: "Is 0.01 safe?"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sess
}

func assertCode(t *testing.T, err error, want string) {
	t.Helper()
	if got := apperr.Code(err); got != want {
		t.Fatalf("error code = %q (%v), want %q", got, err, want)
	}
}

func TestOpenValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   OpenInput
		code string
	}{
		{"short subject", OpenInput{Subject: " hi ", Message: "help"}, "invalid_subject"},
		{"long subject", OpenInput{Subject: strings.Repeat("s", 141), Message: "help"}, "invalid_subject"},
		{"blank message", OpenInput{Subject: "Billing", Message: "   "}, "invalid_message"},
		{"long message", OpenInput{Subject: "Billing", Message: strings.Repeat("m", 2001)}, "invalid_message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Open(ctx, h.user.ID, tt.in)
			assertCode(t, err, tt.code)
		})
	}

	_, err := h.svc.Open(ctx, uuid.New(), OpenInput{Subject: "Billing", Message: "help"})
	assertCode(t, err, "not_found")
	if len(h.seen.sessions) != 0 {
		t.Errorf("notified %d sessions for rejected input", len(h.seen.sessions))
	}
}

func TestOpenStoresFirstMessageAndNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.svc.Open(ctx, h.user.ID, OpenInput{Subject: "  Feeling small  ", Message: "Everything looks huge", Distress: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.Status != models.SupportOpen || sess.Subject != "Feeling small" || !sess.Distress {
		t.Errorf("unexpected session: %+v", sess)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].SenderRole != models.SenderUser || sess.Messages[0].SenderName != "Ada" {
		t.Errorf("unexpected first message: %+v", sess.Messages)
	}
	if len(h.seen.sessions) != 1 || h.seen.sessions[0].ID != sess.ID {
		t.Errorf("notifier saw %+v", h.seen.sessions)
	}

	list, err := h.svc.ListForUser(ctx, h.user.ID)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(list) != 1 || len(list[0].Messages) != 1 {
		t.Errorf("list = %+v", list)
	}
	if list, _ := h.svc.ListForUser(ctx, h.other.ID); list == nil || len(list) != 0 {
		t.Errorf("other user's list = %#v, want empty slice", list)
	}
}

func TestConversationFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess := h.open(t)

	h.clock.t = h.clock.t.Add(time.Minute)
	got, err := h.svc.PostStaffMessage(ctx, sess.ID, "Grace", "Yes, within limits.")
	if err != nil {
		t.Fatalf("PostStaffMessage: %v", err)
	}
	if got.Status != models.SupportAssigned || got.AssignedTo != "Grace" {
		t.Errorf("staff reply did not assign: %+v", got)
	}

	h.clock.t = h.clock.t.Add(time.Minute)
	got, err = h.svc.PostUserMessage(ctx, h.user.ID, sess.ID, "Thanks!")
	if err != nil {
		t.Fatalf("PostUserMessage: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(got.Messages))
	}
	roles := []models.SenderRole{models.SenderUser, models.SenderStaff, models.SenderUser}
	for i, m := range got.Messages {
		if m.SenderRole != roles[i] {
			t.Errorf("message %d role = %s, want %s", i, m.SenderRole, roles[i])
		}
	}
	if !got.UpdatedAt.Equal(h.clock.t) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, h.clock.t)
	}

	// A second staff member replying does not steal the assignment.
	got, err = h.svc.PostStaffMessage(ctx, sess.ID, "Linus", "Following up.")
	if err != nil {
		t.Fatalf("PostStaffMessage: %v", err)
	}
	if got.AssignedTo != "Grace" {
		t.Errorf("assigned to %q, want Grace", got.AssignedTo)
	}
}

func TestForeignSessionIsHidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess := h.open(t)

	_, err := h.svc.PostUserMessage(ctx, h.other.ID, sess.ID, "hello")
	assertCode(t, err, "session_not_found")
	_, err = h.svc.Close(ctx, h.other.ID, sess.ID)
	assertCode(t, err, "session_not_found")
}

func TestCloseIsIdempotentAndBlocksReplies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess := h.open(t)

	first, err := h.svc.Close(ctx, h.user.ID, sess.ID)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if first.Status != models.SupportResolved || first.ClosedAt == nil {
		t.Fatalf("not resolved: %+v", first)
	}

	h.clock.t = h.clock.t.Add(time.Hour)
	second, err := h.svc.Close(ctx, h.user.ID, sess.ID)
	if err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !second.ClosedAt.Equal(*first.ClosedAt) {
		t.Errorf("closed_at moved from %v to %v", first.ClosedAt, second.ClosedAt)
	}

	_, err = h.svc.PostUserMessage(ctx, h.user.ID, sess.ID, "one more thing")
	assertCode(t, err, "session_resolved")
	_, err = h.svc.PostStaffMessage(ctx, sess.ID, "Grace", "anything else?")
	assertCode(t, err, "session_resolved")
}

func TestAdminUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess := h.open(t)
	status := func(s models.SupportStatus) *models.SupportStatus { return &s }
	name := func(s string) *string { return &s }

	_, err := h.svc.AdminUpdate(ctx, sess.ID, AdminUpdateInput{Status: status(models.SupportAssigned)})
	assertCode(t, err, "invalid_admin_name")
	_, err = h.svc.AdminUpdate(ctx, sess.ID, AdminUpdateInput{AdminName: "Grace", Status: status("escalated")})
	assertCode(t, err, "invalid_status")
	_, err = h.svc.AdminUpdate(ctx, uuid.New(), AdminUpdateInput{AdminName: "Grace"})
	assertCode(t, err, "not_found")

	got, err := h.svc.AdminUpdate(ctx, sess.ID, AdminUpdateInput{AdminName: "Grace", Status: status(models.SupportAssigned)})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.AssignedTo != "Grace" {
		t.Errorf("assigned to %q, want Grace", got.AssignedTo)
	}

	got, err = h.svc.AdminUpdate(ctx, sess.ID, AdminUpdateInput{AdminName: "Grace", AssignedName: name("Linus")})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got.AssignedTo != "Linus" || got.Status != models.SupportAssigned {
		t.Errorf("reassign result: %+v", got)
	}

	got, err = h.svc.AdminUpdate(ctx, sess.ID, AdminUpdateInput{AdminName: "Grace", Status: status(models.SupportResolved)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ClosedAt == nil {
		t.Error("resolve did not stamp closed_at")
	}

	got, err = h.svc.AdminUpdate(ctx, sess.ID, AdminUpdateInput{AdminName: "Grace", Status: status(models.SupportOpen)})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got.ClosedAt != nil || got.AssignedTo != "" {
		t.Errorf("reopen kept closure or assignment: %+v", got)
	}

	all, err := h.svc.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 || all[0].Status != models.SupportOpen {
		t.Errorf("ListAll = %+v", all)
	}
}
