package booking

import (
	"context"
	"time"

	"github.com/okovalchuk/slotline/services/booking-service/internal/schedule"
)

// Appointment is the authoritative booking record. ScheduleID is empty for
// ad-hoc appointments that are not backed by a schedule rule; the booking key
// then falls back to (operator, service, time range).
type Appointment struct {
	ID         string
	UserID     string
	ServiceID  string
	OperatorID string
	ScheduleID string
	Start      time.Time
	End        time.Time
	Status     Status
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Event is a domain event recorded atomically with the mutation that caused
// it. Delivery downstream is the outbox publisher's concern; the engine never
// blocks on it.
type Event struct {
	Type          string
	AppointmentID string
	Payload       []byte
}

const (
	EventReserved  = "appointment.reserved.v1"
	EventConfirmed = "appointment.confirmed.v1"
	EventCancelled = "appointment.cancelled.v1"
	EventCompleted = "appointment.completed.v1"
)

// Store is the persistence contract the ledger drives. Implementations must
// guarantee that Reserve fails with ErrSlotConflict when the appointment's
// [Start, End) range intersects an existing blocking appointment on the same
// booking key, atomically with respect to concurrent Reserve calls.
type Store interface {
	// Reserve inserts the appointment and records evt in the same atomic unit.
	Reserve(ctx context.Context, appt *Appointment, evt Event) error

	Get(ctx context.Context, id string) (Appointment, error)

	// UpdateStatus moves the appointment from `from` to `to` and records evt,
	// only if the current status still equals `from`. It reports false when
	// the guard did not match (the row changed underneath the caller).
	UpdateStatus(ctx context.Context, id string, from, to Status, evt Event) (bool, error)

	// ListBlocking returns blocking appointments for a service intersecting
	// [from, to). An empty operatorID matches every operator.
	ListBlocking(ctx context.Context, serviceID, operatorID string, from, to time.Time) ([]Appointment, error)

	// ListByUser returns a user's appointments, newest first. An empty status
	// matches all statuses.
	ListByUser(ctx context.Context, userID string, status Status, limit int) ([]Appointment, error)
}

// RuleSource supplies schedule rules and operator zone ids to the ledger.
type RuleSource interface {
	// RulesForService returns the active rules for a service; an empty
	// operatorID returns rules across all of the service's operators.
	RulesForService(ctx context.Context, serviceID, operatorID string) ([]schedule.Rule, error)

	// RulesForOperator returns every rule the operator has defined, used for
	// structural overlap validation at authoring time.
	RulesForOperator(ctx context.Context, operatorID string) ([]schedule.Rule, error)

	// OperatorZone returns the IANA zone id the operator's windows are
	// interpreted in. Empty means the portal default.
	OperatorZone(ctx context.Context, operatorID string) (string, error)
}
