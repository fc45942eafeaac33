package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{Invalid("amount must be > 0"), "VALIDATION_ERROR"},
		{fmt.Errorf("login: %w", ErrUnauthenticated), "AUTHENTICATION_ERROR"},
		{ErrConflict, "CONFLICT"},
		{Conflict("idempotency key was already used"), "CONFLICT"},
		{fmt.Errorf("update: %w", ErrStale), "CONFLICT"},
		{fmt.Errorf("pot: %w", ErrNotFound), "NOT_FOUND"},
		{ErrInsufficientFunds, "INSUFFICIENT_FUNDS"},
		{errors.New("connection reset"), "INTERNAL_ERROR"},
	}
	for _, c := range cases {
		if got := Code(c.err); got != c.want {
			t.Fatalf("Code(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestInvalidMessage(t *testing.T) {
	err := Invalid("name must be at most %d characters", 50)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid")
	}
	if err.Error() != "invalid: name must be at most 50 characters" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestMessageHidesInternals(t *testing.T) {
	if got := Message(errors.New("pq: relation users does not exist")); got != "internal server error" {
		t.Fatalf("got %q", got)
	}
	wrapped := fmt.Errorf("create budget: %w", &Error{Kind: ErrConflict, Msg: "budget for this category already exists"})
	if got := Message(wrapped); got != "budget for this category already exists" {
		t.Fatalf("got %q", got)
	}
	if got := Message(ErrNotFound); got != "resource not found" {
		t.Fatalf("got %q", got)
	}
}
