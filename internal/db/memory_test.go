package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"etinuxe/internal/apperr"
	"etinuxe/internal/models"
)

func seedUser(t *testing.T, store *MemoryStore) models.User {
	t.Helper()
	u := models.User{ID: uuid.New(), Email: "ada@example.com", Name: "Ada", Status: models.UserVerified}
	err := store.Atomic(context.Background(), func(q Queries) error {
		return q.CreateUser(context.Background(), &u)
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func TestMemoryStoreAtomicRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	u := seedUser(t, store)

	boom := errors.New("boom")
	err := store.Atomic(ctx, func(q Queries) error {
		if err := q.AddPoints(ctx, &models.PointsEntry{ID: uuid.New(), UserID: u.ID, Delta: 500, Reason: models.PointsReasonMemory}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var summary models.PointsSummary
	_ = store.Read(ctx, func(q Queries) error {
		summary, err = q.PointsSummary(ctx, u.ID)
		return err
	})
	if summary.TotalPoints != 0 {
		t.Errorf("points survived rollback: %+v", summary)
	}
}

func TestMemoryStorePointsSummary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	u := seedUser(t, store)

	err := store.Atomic(ctx, func(q Queries) error {
		entries := []struct {
			delta  float64
			reason string
		}{
			{100, models.PointsReasonMemory},
			{100, models.PointsReasonMemory},
			{300, models.PointsReasonMemory},
			{-500, models.PointsReasonRedemption},
			{100, models.PointsReasonRefund},
		}
		for _, e := range entries {
			if err := q.AddPoints(ctx, &models.PointsEntry{ID: uuid.New(), UserID: u.ID, Delta: e.delta, Reason: e.reason}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("add points: %v", err)
	}

	var got models.PointsSummary
	_ = store.Read(ctx, func(q Queries) error {
		got, err = q.PointsSummary(ctx, u.ID)
		return err
	})
	want := models.PointsSummary{TotalPoints: 500, SpentPoints: 400, AvailablePoints: 100}
	if got != want {
		t.Errorf("summary = %+v, want %+v", got, want)
	}
}

func TestMemoryStoreOnePolicyPerSlot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	u := seedUser(t, store)
	reqID := uuid.New()
	now := time.Now()

	active := func() *models.InsurancePolicy {
		return &models.InsurancePolicy{
			ID: uuid.New(), UserID: u.ID, RequestID: reqID, Tier: models.TierBasic,
			Status: models.PolicyActive, CreatedAt: now, EffectiveAt: now,
		}
	}

	if err := store.Atomic(ctx, func(q Queries) error { return q.CreatePolicy(ctx, active()) }); err != nil {
		t.Fatalf("first active: %v", err)
	}
	err := store.Atomic(ctx, func(q Queries) error { return q.CreatePolicy(ctx, active()) })
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStoreReadIsReadOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Read(ctx, func(q Queries) error {
		return q.SaveSettings(ctx, models.DefaultPricingSettings())
	})
	if err == nil {
		t.Fatal("expected write inside Read to fail")
	}
}

func TestMemoryStoreDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedUser(t, store)

	err := store.Atomic(ctx, func(q Queries) error {
		return q.CreateUser(ctx, &models.User{ID: uuid.New(), Email: "ADA@example.com"})
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStoreSupportSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	u := seedUser(t, store)
	t0 := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	older := models.SupportSession{ID: uuid.New(), UserID: u.ID, Subject: "old", Status: models.SupportOpen, CreatedAt: t0, UpdatedAt: t0}
	newer := models.SupportSession{ID: uuid.New(), UserID: u.ID, Subject: "new", Status: models.SupportOpen, CreatedAt: t0, UpdatedAt: t0.Add(time.Hour)}
	err := store.Atomic(ctx, func(q Queries) error {
		for _, s := range []*models.SupportSession{&older, &newer} {
			if err := q.CreateSupportSession(ctx, s); err != nil {
				return err
			}
		}
		for i, body := range []string{"second", "first"} {
			m := models.SupportMessage{ID: uuid.New(), SessionID: older.ID, SenderRole: models.SenderUser, Body: body, CreatedAt: t0.Add(time.Duration(1-i) * time.Minute)}
			if err := q.AddSupportMessage(ctx, &m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed sessions: %v", err)
	}

	var list []models.SupportSession
	_ = store.Read(ctx, func(q Queries) (err error) {
		list, err = q.ListSupportSessions(ctx, &u.ID)
		return err
	})
	if len(list) != 2 || list[0].ID != newer.ID {
		t.Fatalf("sessions not ordered by activity: %+v", list)
	}
	if list[0].Messages == nil || len(list[0].Messages) != 0 {
		t.Errorf("session without messages = %#v, want empty slice", list[0].Messages)
	}
	if msgs := list[1].Messages; len(msgs) != 2 || msgs[0].Body != "first" {
		t.Errorf("messages not oldest first: %+v", msgs)
	}

	other := uuid.New()
	_ = store.Read(ctx, func(q Queries) (err error) {
		list, err = q.ListSupportSessions(ctx, &other)
		return err
	})
	if len(list) != 0 {
		t.Errorf("foreign listing = %d sessions", len(list))
	}
}
