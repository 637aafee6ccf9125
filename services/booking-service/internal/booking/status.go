package booking

import "fmt"

// Status is an appointment's lifecycle state.
//
//	pending   -> confirmed, cancelled
//	confirmed -> cancelled, completed
//	cancelled, completed: terminal
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Blocking reports whether the status reserves capacity: a blocking
// appointment excludes overlapping slots from availability.
func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// CanTransition reports whether from -> to is a legal edge of the lifecycle.
// cancelled -> cancelled is deliberately absent: the ledger treats a repeated
// cancel as a no-op success before consulting this table.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCancelled || to == StatusCompleted
	}
	return false
}

// authorizeTransition enforces who may move an appointment where: confirm and
// complete are operator/administrator actions; cancel belongs to the owning
// user or an administrator.
func authorizeTransition(actor Actor, ownerID string, to Status) error {
	switch to {
	case StatusConfirmed, StatusCompleted:
		if !actor.elevated() {
			return ErrPermissionDenied
		}
		return nil
	case StatusCancelled:
		if actor.Role == RoleAdministrator {
			return nil
		}
		if actor.UserID != "" && actor.UserID == ownerID {
			return nil
		}
		return ErrPermissionDenied
	}
	return ErrInvalidTransition
}
