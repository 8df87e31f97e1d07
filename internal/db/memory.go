package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"etinuxe/internal/apperr"
	"etinuxe/internal/models"
)

// MemoryStore keeps everything in process. Atomic holds the store lock for
// the whole callback and restores the previous state when it fails, so it
// gives the same all-or-nothing behaviour as a Postgres transaction.
type MemoryStore struct {
	mu    sync.RWMutex
	state memState
}

type memState struct {
	users    []models.User
	otps     []models.OTP
	requests []models.MiniaturizationRequest
	dna      []models.DNAToken
	mini     []models.MiniaturizationToken
	payments []models.Payment
	policies []models.InsurancePolicy
	points   []models.PointsEntry
	memories []models.MemoryLog
	resets   []models.PasswordReset
	sessions []models.SupportSession
	messages []models.SupportMessage
	settings *models.PricingSettings
}

func (s memState) clone() memState {
	out := memState{
		users:    append([]models.User(nil), s.users...),
		otps:     append([]models.OTP(nil), s.otps...),
		requests: append([]models.MiniaturizationRequest(nil), s.requests...),
		dna:      append([]models.DNAToken(nil), s.dna...),
		mini:     append([]models.MiniaturizationToken(nil), s.mini...),
		payments: append([]models.Payment(nil), s.payments...),
		policies: append([]models.InsurancePolicy(nil), s.policies...),
		points:   append([]models.PointsEntry(nil), s.points...),
		memories: append([]models.MemoryLog(nil), s.memories...),
		resets:   append([]models.PasswordReset(nil), s.resets...),
		sessions: append([]models.SupportSession(nil), s.sessions...),
		messages: append([]models.SupportMessage(nil), s.messages...),
	}
	if s.settings != nil {
		cp := s.settings.Clone()
		out.settings = &cp
	}
	return out
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Atomic(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memQueries{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memQueries{s: &m.state, readOnly: true})
}

func (m *MemoryStore) Close() {}

type memQueries struct {
	s        *memState
	readOnly bool
}

var errReadOnly = fmt.Errorf("write attempted inside a read")

func (q *memQueries) writable() error {
	if q.readOnly {
		return errReadOnly
	}
	return nil
}

func matchUser(filter *uuid.UUID, id uuid.UUID) bool {
	return filter == nil || *filter == id
}

// ---- users ----

func (q *memQueries) CreateUser(_ context.Context, u *models.User) error {
	if err := q.writable(); err != nil {
		return err
	}
	for _, existing := range q.s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return apperr.Conflict("email_taken", "email %s is already registered", u.Email)
		}
	}
	q.s.users = append(q.s.users, *u)
	return nil
}

func (q *memQueries) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	for _, u := range q.s.users {
		if u.ID == id {
			u := u
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user: %w", apperr.ErrNotFound)
}

func (q *memQueries) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range q.s.users {
		if strings.EqualFold(u.Email, email) {
			u := u
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user: %w", apperr.ErrNotFound)
}

func (q *memQueries) UpdateUser(_ context.Context, u *models.User) error {
	if err := q.writable(); err != nil {
		return err
	}
	for i := range q.s.users {
		if q.s.users[i].ID == u.ID {
			q.s.users[i] = *u
			return nil
		}
	}
	return fmt.Errorf("user: %w", apperr.ErrNotFound)
}

func (q *memQueries) ListUsers(_ context.Context) ([]models.User, error) {
	return append([]models.User(nil), q.s.users...), nil
}

// LockUser only checks existence; the store lock already serialises writers.
func (q *memQueries) LockUser(ctx context.Context, id uuid.UUID) error {
	_, err := q.GetUser(ctx, id)
	return err
}

// ---- otp ----

func (q *memQueries) CreateOTP(_ context.Context, otp *models.OTP) error {
	if err := q.writable(); err != nil {
		return err
	}
	q.s.otps = append(q.s.otps, *otp)
	return nil
}

func (q *memQueries) FindOTP(_ context.Context, userID uuid.UUID, code string) (*models.OTP, error) {
	var found *models.OTP
	for i := range q.s.otps {
		o := q.s.otps[i]
		if o.UserID != userID || o.Code != code {
			continue
		}
		if found == nil || o.ExpiresAt.After(found.ExpiresAt) {
			found = &o
		}
	}
	if found == nil {
		return nil, fmt.Errorf("otp: %w", apperr.ErrNotFound)
	}
	return found, nil
}

func (q *memQueries) ConsumeOTP(_ context.Context, id uuid.UUID) error {
	if err := q.writable(); err != nil {
		return err
	}
	for i := range q.s.otps {
		if q.s.otps[i].ID == id {
			q.s.otps[i].Consumed = true
			return nil
		}
	}
	return fmt.Errorf("otp: %w", apperr.ErrNotFound)
}

// ---- password resets ----

func (q *memQueries) CreatePasswordReset(_ context.Context, r *models.PasswordReset) error {
	if err := q.writable(); err != nil {
		return err
	}
	kept := q.s.resets[:0:0]
	for _, existing := range q.s.resets {
		if existing.UserID != r.UserID {
			kept = append(kept, existing)
		}
	}
	q.s.resets = append(kept, *r)
	return nil
}

func (q *memQueries) FindPasswordReset(_ context.Context, token string) (*models.PasswordReset, error) {
	for _, r := range q.s.resets {
		if token != "" && r.Token == token {
			r := r
			return &r, nil
		}
	}
	return nil, fmt.Errorf("password reset: %w", apperr.ErrNotFound)
}

func (q *memQueries) ConsumePasswordReset(_ context.Context, id uuid.UUID) error {
	if err := q.writable(); err != nil {
		return err
	}
	for i := range q.s.resets {
		if q.s.resets[i].ID == id {
			q.s.resets[i].Consumed = true
			return nil
		}
	}
	return fmt.Errorf("password reset: %w", apperr.ErrNotFound)
}

// ---- requests ----

func (q *memQueries) CreateRequest(_ context.Context, r *models.MiniaturizationRequest) error {
	if err := q.writable(); err != nil {
		return err
	}
	q.s.requests = append(q.s.requests, *r)
	return nil
}

func (q *memQueries) GetRequest(_ context.Context, id uuid.UUID) (*models.MiniaturizationRequest, error) {
	for _, r := range q.s.requests {
		if r.ID == id {
			r := r
			return &r, nil
		}
	}
	return nil, fmt.Errorf("miniaturization request: %w", apperr.ErrNotFound)
}

func (q *memQueries) LockRequest(ctx context.Context, id uuid.UUID) (*models.MiniaturizationRequest, error) {
	return q.GetRequest(ctx, id)
}

func (q *memQueries) UpdateRequest(_ context.Context, r *models.MiniaturizationRequest) error {
	if err := q.writable(); err != nil {
		return err
	}
	for i := range q.s.requests {
		if q.s.requests[i].ID == r.ID {
			q.s.requests[i] = *r
			return nil
		}
	}
	return fmt.Errorf("miniaturization request: %w", apperr.ErrNotFound)
}

func (q *memQueries) ListRequests(_ context.Context, userID *uuid.UUID) ([]models.MiniaturizationRequest, error) {
	var out []models.MiniaturizationRequest
	for _, r := range q.s.requests {
		if matchUser(userID, r.UserID) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ---- tokens ----

func (q *memQueries) CreateDNAToken(_ context.Context, t *models.DNAToken) error {
	if err := q.writable(); err != nil {
		return err
	}
	q.s.dna = append(q.s.dna, *t)
	return nil
}

func (q *memQueries) GetDNAToken(_ context.Context, id uuid.UUID) (*models.DNAToken, error) {
	for _, t := range q.s.dna {
		if t.ID == id {
			t := t
			return &t, nil
		}
	}
	return nil, fmt.Errorf("dna token: %w", apperr.ErrNotFound)
}

func (q *memQueries) ListDNATokens(_ context.Context, userID uuid.UUID) ([]models.DNAToken, error) {
	var out []models.DNAToken
	for _, t := range q.s.dna {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (q *memQueries) CreateMiniToken(_ context.Context, t *models.MiniaturizationToken) error {
	if err := q.writable(); err != nil {
		return err
	}
	q.s.mini = append(q.s.mini, *t)
	return nil
}

func (q *memQueries) GetMiniToken(_ context.Context, id uuid.UUID) (*models.MiniaturizationToken, error) {
	for _, t := range q.s.mini {
		if t.ID == id {
			t := t
			return &t, nil
		}
	}
	return nil, fmt.Errorf("miniaturization token: %w", apperr.ErrNotFound)
}

func (q *memQueries) UpdateMiniToken(_ context.Context, t *models.MiniaturizationToken) error {
	if err := q.writable(); err != nil {
		return err
	}
	for i := range q.s.mini {
		if q.s.mini[i].ID == t.ID {
			q.s.mini[i] = *t
			return nil
		}
	}
	return fmt.Errorf("miniaturization token: %w", apperr.ErrNotFound)
}

func (q *memQueries) ListMiniTokens(_ context.Context, userID *uuid.UUID) ([]models.MiniaturizationToken, error) {
	var out []models.MiniaturizationToken
	for _, t := range q.s.mini {
		if matchUser(userID, t.UserID) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ---- payments ----

func (q *memQueries) CreatePayment(_ context.Context, p *models.Payment) error {
	if err := q.writable(); err != nil {
		return err
	}
	q.s.payments = append(q.s.payments, *p)
	return nil
}

func (q *memQueries) UpdatePayment(_ context.Context, p *models.Payment) error {
	if err := q.writable(); err != nil {
		return err
	}
	for i := range q.s.payments {
		if q.s.payments[i].ID == p.ID {
			q.s.payments[i] = *p
			return nil
		}
	}
	return fmt.Errorf("payment: %w", apperr.ErrNotFound)
}

func (q *memQueries) GetPaymentByRef(_ context.Context, ref string) (*models.Payment, error) {
	for _, p := range q.s.payments {
		if ref != "" && p.ExternalRef == ref {
			p := p
			return &p, nil
		}
	}
	return nil, fmt.Errorf("payment: %w", apperr.ErrNotFound)
}

func (q *memQueries) ListPayments(_ context.Context, userID *uuid.UUID) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range q.s.payments {
		if matchUser(userID, p.UserID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ---- policies ----

// checkPolicySlot mirrors the partial unique indexes: one active and one
// scheduled policy per request.
func (q *memQueries) checkPolicySlot(p *models.InsurancePolicy) error {
	if p.Status != models.PolicyActive && p.Status != models.PolicyScheduled {
		return nil
	}
	for _, existing := range q.s.policies {
		if existing.ID != p.ID && existing.RequestID == p.RequestID && existing.Status == p.Status {
			return apperr.Conflict("conflict", "request %s already has a %s policy", p.RequestID, p.Status)
		}
	}
	return nil
}

func (q *memQueries) CreatePolicy(_ context.Context, p *models.InsurancePolicy) error {
	if err := q.writable(); err != nil {
		return err
	}
	if err := q.checkPolicySlot(p); err != nil {
		return err
	}
	q.s.policies = append(q.s.policies, *p)
	return nil
}

func (q *memQueries) UpdatePolicy(_ context.Context, p *models.InsurancePolicy) error {
	if err := q.writable(); err != nil {
		return err
	}
	if err := q.checkPolicySlot(p); err != nil {
		return err
	}
	for i := range q.s.policies {
		if q.s.policies[i].ID == p.ID {
			q.s.policies[i] = *p
			return nil
		}
	}
	return fmt.Errorf("insurance policy: %w", apperr.ErrNotFound)
}

func (q *memQueries) ListRequestPolicies(_ context.Context, requestID uuid.UUID) ([]models.InsurancePolicy, error) {
	var out []models.InsurancePolicy
	for _, p := range q.s.policies {
		if p.RequestID == requestID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (q *memQueries) ListPolicies(_ context.Context, userID *uuid.UUID) ([]models.InsurancePolicy, error) {
	var out []models.InsurancePolicy
	for _, p := range q.s.policies {
		if matchUser(userID, p.UserID) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- points + memories ----

func (q *memQueries) AddPoints(_ context.Context, e *models.PointsEntry) error {
	if err := q.writable(); err != nil {
		return err
	}
	q.s.points = append(q.s.points, *e)
	return nil
}

func (q *memQueries) PointsSummary(_ context.Context, userID uuid.UUID) (models.PointsSummary, error) {
	var s models.PointsSummary
	for _, e := range q.s.points {
		if e.UserID != userID {
			continue
		}
		if models.IsSpend(e.Reason) {
			s.SpentPoints -= e.Delta
		} else {
			s.TotalPoints += e.Delta
		}
	}
	s.AvailablePoints = s.TotalPoints - s.SpentPoints
	return s, nil
}

func (q *memQueries) CreateMemoryLog(_ context.Context, m *models.MemoryLog) error {
	if err := q.writable(); err != nil {
		return err
	}
	q.s.memories = append(q.s.memories, *m)
	return nil
}

func (q *memQueries) ListMemoryLogs(_ context.Context, userID uuid.UUID, limit int) ([]models.MemoryLog, error) {
	var out []models.MemoryLog
	for _, m := range q.s.memories {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- support ----

func (q *memQueries) withMessages(sess models.SupportSession) models.SupportSession {
	sess.Messages = []models.SupportMessage{}
	for _, m := range q.s.messages {
		if m.SessionID == sess.ID {
			sess.Messages = append(sess.Messages, m)
		}
	}
	sort.SliceStable(sess.Messages, func(i, j int) bool {
		return sess.Messages[i].CreatedAt.Before(sess.Messages[j].CreatedAt)
	})
	return sess
}

func (q *memQueries) CreateSupportSession(_ context.Context, sess *models.SupportSession) error {
	if err := q.writable(); err != nil {
		return err
	}
	stored := *sess
	stored.Messages = nil
	q.s.sessions = append(q.s.sessions, stored)
	return nil
}

func (q *memQueries) GetSupportSession(_ context.Context, id uuid.UUID) (*models.SupportSession, error) {
	for _, sess := range q.s.sessions {
		if sess.ID == id {
			out := q.withMessages(sess)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("support session: %w", apperr.ErrNotFound)
}

func (q *memQueries) LockSupportSession(ctx context.Context, id uuid.UUID) (*models.SupportSession, error) {
	return q.GetSupportSession(ctx, id)
}

func (q *memQueries) UpdateSupportSession(_ context.Context, sess *models.SupportSession) error {
	if err := q.writable(); err != nil {
		return err
	}
	for i := range q.s.sessions {
		if q.s.sessions[i].ID == sess.ID {
			stored := *sess
			stored.Messages = nil
			q.s.sessions[i] = stored
			return nil
		}
	}
	return fmt.Errorf("support session: %w", apperr.ErrNotFound)
}

func (q *memQueries) AddSupportMessage(_ context.Context, m *models.SupportMessage) error {
	if err := q.writable(); err != nil {
		return err
	}
	q.s.messages = append(q.s.messages, *m)
	return nil
}

func (q *memQueries) ListSupportSessions(_ context.Context, userID *uuid.UUID) ([]models.SupportSession, error) {
	var out []models.SupportSession
	for _, sess := range q.s.sessions {
		if matchUser(userID, sess.UserID) {
			out = append(out, q.withMessages(sess))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// ---- settings ----

func (q *memQueries) GetSettings(_ context.Context) (models.PricingSettings, bool, error) {
	if q.s.settings == nil {
		return models.PricingSettings{}, false, nil
	}
	return q.s.settings.Clone(), true, nil
}

func (q *memQueries) SaveSettings(_ context.Context, s models.PricingSettings) error {
	if err := q.writable(); err != nil {
		return err
	}
	cp := s.Clone()
	q.s.settings = &cp
	return nil
}
