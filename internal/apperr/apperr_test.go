package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindsSurviveWrapping(t *testing.T) {
	base := Validation("bad_scale", "scale %v out of range", 2.0)
	wrapped := fmt.Errorf("quote: %w", base)

	if !errors.Is(wrapped, ErrValidation) {
		t.Fatalf("expected wrapped error to match ErrValidation")
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("validation error must not match ErrNotFound")
	}
	if got := Code(wrapped); got != "bad_scale" {
		t.Fatalf("unexpected code: got=%q", got)
	}
	if got := wrapped.Error(); got != "quote: scale 2 out of range" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{Validation("x", "x"), http.StatusBadRequest},
		{NotFound("x", "x"), http.StatusNotFound},
		{Eligibility("x", "x"), http.StatusUnprocessableEntity},
		{Conflict("x", "x"), http.StatusConflict},
		{fmt.Errorf("spend: %w", ErrLedgerInsufficient), http.StatusConflict},
		{New(ErrRateLimited, "memory_cooldown", "wait"), http.StatusTooManyRequests},
		{New(ErrUnauthorized, "bad_credentials", "nope"), http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
	if got := Code(errors.New("boom")); got != "internal_error" {
		t.Errorf("unexpected fallback code %q", got)
	}
}

type codedErr struct{}

func (codedErr) Error() string     { return "coded" }
func (codedErr) ErrorCode() string { return "custom_code" }
func (codedErr) Unwrap() error     { return ErrValidation }

func TestCodeFromErrorCoder(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", codedErr{})
	if got := Code(err); got != "custom_code" {
		t.Errorf("Code = %q, want custom_code", got)
	}
	if got := HTTPStatus(err); got != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want 400", got)
	}
}
