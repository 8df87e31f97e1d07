package onboarding

import (
	"context"
	"testing"
	"time"
)

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.signup(t, "ada@example.com")

	if err := h.svc.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := h.sender.resets[u.ID]
	if len(token) != 64 {
		t.Fatalf("token = %q, want 64 hex chars", token)
	}

	err := h.svc.ResetPassword(ctx, ResetPasswordInput{Token: token, NewPassword: "short"})
	assertCode(t, err, "weak_password")
	err = h.svc.ResetPassword(ctx, ResetPasswordInput{Token: "nope", NewPassword: "new battery staple"})
	assertCode(t, err, "invalid_token")

	if err := h.svc.ResetPassword(ctx, ResetPasswordInput{Token: token, NewPassword: "new battery staple"}); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := h.svc.Authenticate(ctx, "ada@example.com", "correct horse"); err == nil {
		t.Error("old password still accepted")
	}
	if _, err := h.svc.Authenticate(ctx, "ada@example.com", "new battery staple"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}

	err = h.svc.ResetPassword(ctx, ResetPasswordInput{Token: token, NewPassword: "another staple"})
	assertCode(t, err, "invalid_token")
}

func TestPasswordResetExpiresAndReplaces(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.signup(t, "ada@example.com")

	if err := h.svc.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	first := h.sender.resets[u.ID]
	if err := h.svc.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("second RequestPasswordReset: %v", err)
	}
	second := h.sender.resets[u.ID]
	if first == second {
		t.Fatal("second request reused the token")
	}
	err := h.svc.ResetPassword(ctx, ResetPasswordInput{Token: first, NewPassword: "new battery staple"})
	assertCode(t, err, "invalid_token")

	h.clock.advance(PasswordResetTTL + time.Second)
	err = h.svc.ResetPassword(ctx, ResetPasswordInput{Token: second, NewPassword: "new battery staple"})
	assertCode(t, err, "invalid_token")
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	h := newHarness(t)
	if err := h.svc.RequestPasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("unknown email: %v", err)
	}
	if len(h.sender.resets) != 0 {
		t.Errorf("mailed %d resets for an unknown email", len(h.sender.resets))
	}
	err := h.svc.RequestPasswordReset(context.Background(), "  ")
	assertCode(t, err, "invalid_email")
}
