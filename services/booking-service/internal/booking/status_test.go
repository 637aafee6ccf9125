package booking

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCompleted, StatusConfirmed, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Fatalf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStatusBlocking(t *testing.T) {
	if !StatusPending.Blocking() || !StatusConfirmed.Blocking() {
		t.Fatal("pending and confirmed must block")
	}
	if StatusCancelled.Blocking() || StatusCompleted.Blocking() {
		t.Fatal("terminal statuses must not block")
	}
	if !StatusCancelled.Terminal() || !StatusCompleted.Terminal() {
		t.Fatal("cancelled and completed are terminal")
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("confirmed")
	if err != nil || s != StatusConfirmed {
		t.Fatalf("confirmed: got %q, %v", s, err)
	}
	if _, err := ParseStatus("archived"); err == nil {
		t.Fatal("unknown status must be rejected")
	}
}

func TestAuthorizeTransition(t *testing.T) {
	owner := Actor{Role: RoleUser, UserID: "u1"}
	other := Actor{Role: RoleUser, UserID: "u2"}
	operator := Actor{Role: RoleOperator, UserID: "op1"}
	admin := Actor{Role: RoleAdministrator, UserID: "a1"}

	if err := authorizeTransition(owner, "u1", StatusConfirmed); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("user confirm: expected permission denied, got %v", err)
	}
	if err := authorizeTransition(operator, "u1", StatusConfirmed); err != nil {
		t.Fatalf("operator confirm: %v", err)
	}
	if err := authorizeTransition(admin, "u1", StatusCompleted); err != nil {
		t.Fatalf("admin complete: %v", err)
	}

	if err := authorizeTransition(owner, "u1", StatusCancelled); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if err := authorizeTransition(other, "u1", StatusCancelled); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("non-owner cancel: expected permission denied, got %v", err)
	}
	if err := authorizeTransition(admin, "u1", StatusCancelled); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	// Operators are not owners and not admins for cancel purposes.
	if err := authorizeTransition(operator, "u1", StatusCancelled); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("operator cancel of someone else's appointment: expected permission denied, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("operator")
	if err != nil || r != RoleOperator {
		t.Fatalf("operator: got %q, %v", r, err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Fatal("unknown role must be rejected")
	}
}
