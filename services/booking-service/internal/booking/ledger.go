package booking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/okovalchuk/slotline/services/booking-service/internal/schedule"
)

const (
	// DefaultMaxRangeDays bounds a listAvailable query span.
	DefaultMaxRangeDays = 90

	maxNotesLen = 500
)

// Ledger is the single arbiter of booking state. All reservation, cancellation
// and status-transition decisions go through it; slot generation and overlap
// detection stay pure and are composed here over the store's current view.
type Ledger struct {
	store        Store
	rules        RuleSource
	logger       *slog.Logger
	defaultZone  *time.Location
	maxRangeDays int
	now          func() time.Time
}

type LedgerConfig struct {
	// DefaultZone interprets rule windows for operators without a zone of
	// their own. Nil means UTC.
	DefaultZone *time.Location
	// MaxRangeDays caps the listAvailable span; 0 means DefaultMaxRangeDays.
	MaxRangeDays int
	// Now is overridable for tests. Nil means time.Now.
	Now func() time.Time
}

func NewLedger(store Store, rules RuleSource, logger *slog.Logger, cfg LedgerConfig) *Ledger {
	if cfg.DefaultZone == nil {
		cfg.DefaultZone = time.UTC
	}
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = DefaultMaxRangeDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		store:        store,
		rules:        rules,
		logger:       logger,
		defaultZone:  cfg.DefaultZone,
		maxRangeDays: cfg.MaxRangeDays,
		now:          cfg.Now,
	}
}

// SlotQuery describes a listAvailable request. Dates are civil (midnight)
// values; the range is inclusive on both ends.
type SlotQuery struct {
	ServiceID  string
	OperatorID string
	DateFrom   time.Time
	DateTo     time.Time
	Duration   time.Duration
}

func (l *Ledger) validateQuery(q SlotQuery) error {
	if q.ServiceID == "" {
		return invalid("serviceId", "required")
	}
	if q.Duration <= 0 {
		return invalid("duration", "must be a positive number of minutes")
	}
	if q.DateTo.Before(q.DateFrom) {
		return invalid("dateTo", "must not precede dateFrom")
	}
	if span := q.DateTo.Sub(q.DateFrom); span > time.Duration(l.maxRangeDays)*24*time.Hour {
		return invalid("dateTo", "range exceeds %d days", l.maxRangeDays)
	}
	return nil
}

// ListAvailable generates the bookable slots for the query, excluding ranges
// already claimed by blocking appointments as of call time. Slots that have
// already begun are dropped.
func (l *Ledger) ListAvailable(ctx context.Context, q SlotQuery) ([]schedule.Slot, error) {
	if err := l.validateQuery(q); err != nil {
		return nil, err
	}

	rules, err := l.rules.RulesForService(ctx, q.ServiceID, q.OperatorID)
	if err != nil {
		return nil, storeErr(err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	// Rule windows are civil times in each operator's own zone, so generation
	// runs per operator; reserve validates in the same zone, keeping advertised
	// slots reservable.
	byOperator := make(map[string][]schedule.Rule)
	for _, r := range rules {
		byOperator[r.OperatorID] = append(byOperator[r.OperatorID], r)
	}

	// The busy window is anchored in UTC and widened by a day on each side so
	// no zone offset can push a blocking appointment outside the queried range.
	busyFrom := schedule.At(q.DateFrom, 0, time.UTC).Add(-24 * time.Hour)
	busyTo := schedule.At(q.DateTo, 0, time.UTC).Add(48 * time.Hour)
	blocking, err := l.store.ListBlocking(ctx, q.ServiceID, q.OperatorID, busyFrom, busyTo)
	if err != nil {
		return nil, storeErr(err)
	}

	busy := make(map[string][]schedule.Interval, len(blocking))
	for _, a := range blocking {
		busy[a.OperatorID] = append(busy[a.OperatorID], schedule.Interval{Start: a.Start, End: a.End})
	}

	var slots []schedule.Slot
	for operatorID, group := range byOperator {
		loc, err := l.zoneFor(ctx, operatorID)
		if err != nil {
			return nil, err
		}
		slots = append(slots, schedule.Generate(group, q.DateFrom, q.DateTo, q.Duration, busy, loc)...)
	}
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Start.Equal(slots[j].Start) {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].OperatorID < slots[j].OperatorID
	})

	now := l.now()
	fresh := slots[:0]
	for _, s := range slots {
		if s.Start.Before(now) {
			continue
		}
		fresh = append(fresh, s)
	}
	return fresh, nil
}

// ReserveRequest asks to claim one slot. ScheduleID may be empty for an
// ad-hoc appointment; Start/End then define the claim directly.
type ReserveRequest struct {
	ServiceID  string
	OperatorID string
	ScheduleID string
	Start      time.Time
	End        time.Time
	Notes      string
}

func (l *Ledger) validateReserve(req ReserveRequest) error {
	if req.ServiceID == "" {
		return invalid("serviceId", "required")
	}
	if req.OperatorID == "" {
		return invalid("operatorId", "required")
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return invalid("date", "start and end are required")
	}
	if !req.End.After(req.Start) {
		return invalid("endDate", "must be after date")
	}
	if len(req.Notes) > maxNotesLen {
		return invalid("notes", "longer than %d characters", maxNotesLen)
	}
	return nil
}

// Reserve atomically claims the slot for the actor. Under concurrent calls
// for overlapping ranges on the same booking key exactly one caller wins; the
// rest receive a ConflictError with reason SlotTaken. The store's uniqueness
// guarantee does the arbitration; on violation the ledger performs one
// re-check to report the conflict, never a retry loop.
func (l *Ledger) Reserve(ctx context.Context, actor Actor, req ReserveRequest) (Appointment, error) {
	if actor.UserID == "" {
		return Appointment{}, ErrPermissionDenied
	}
	if err := l.validateReserve(req); err != nil {
		return Appointment{}, err
	}

	if req.ScheduleID != "" {
		if err := l.checkWithinRule(ctx, req); err != nil {
			return Appointment{}, err
		}
	}

	now := l.now().UTC()
	appt := &Appointment{
		ID:         uuid.NewString(),
		UserID:     actor.UserID,
		ServiceID:  req.ServiceID,
		OperatorID: req.OperatorID,
		ScheduleID: req.ScheduleID,
		Start:      req.Start,
		End:        req.End,
		Status:     StatusPending,
		Notes:      req.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	evt, err := l.event(EventReserved, appt)
	if err != nil {
		return Appointment{}, err
	}

	if err := l.store.Reserve(ctx, appt, evt); err != nil {
		if errors.Is(err, ErrSlotConflict) {
			// Single re-check: confirm the range really is held so the caller
			// gets an honest "choose another slot", then surface the conflict
			// either way. A phantom (the winner rolled back) still conflicts
			// from this call's point of view.
			if taken, ferr := l.store.ListBlocking(ctx, req.ServiceID, req.OperatorID, req.Start, req.End); ferr == nil && len(taken) > 0 {
				return Appointment{}, &ConflictError{Reason: SlotTaken, Detail: "slot already reserved"}
			}
			return Appointment{}, &ConflictError{Reason: SlotTaken}
		}
		return Appointment{}, storeErr(err)
	}

	l.logger.Info("appointment reserved",
		"appointment_id", appt.ID,
		"service_id", appt.ServiceID,
		"operator_id", appt.OperatorID,
		"start", appt.Start.UTC().Format(time.RFC3339),
	)
	return *appt, nil
}

// checkWithinRule verifies a schedule-backed reservation lies inside the
// rule's window on a date the rule is in force.
func (l *Ledger) checkWithinRule(ctx context.Context, req ReserveRequest) error {
	rules, err := l.rules.RulesForOperator(ctx, req.OperatorID)
	if err != nil {
		return storeErr(err)
	}
	var rule *schedule.Rule
	for i := range rules {
		if rules[i].ID == req.ScheduleID {
			rule = &rules[i]
			break
		}
	}
	if rule == nil {
		return ErrNotFound
	}
	if rule.ServiceID != req.ServiceID {
		return invalid("scheduleId", "rule belongs to a different service")
	}

	loc, err := l.zoneFor(ctx, req.OperatorID)
	if err != nil {
		return err
	}
	day := req.Start.In(loc)
	if !rule.AppliesOn(day) {
		return invalid("date", "schedule is not available on %s", schedule.DateKey(day))
	}
	windowStart := schedule.At(day, rule.Start, loc)
	windowEnd := schedule.At(day, rule.End, loc)
	if req.Start.Before(windowStart) || req.End.After(windowEnd) {
		return invalid("date", "slot lies outside the schedule window %s-%s", rule.Start, rule.End)
	}
	return nil
}

// Cancel moves a pending or confirmed appointment to cancelled. Cancelling an
// already-cancelled appointment succeeds as a no-op.
func (l *Ledger) Cancel(ctx context.Context, actor Actor, appointmentID string) (Appointment, error) {
	return l.transition(ctx, actor, appointmentID, StatusCancelled)
}

// Confirm moves a pending appointment to confirmed. Operator or administrator only.
func (l *Ledger) Confirm(ctx context.Context, actor Actor, appointmentID string) (Appointment, error) {
	return l.transition(ctx, actor, appointmentID, StatusConfirmed)
}

// Complete moves a confirmed appointment to completed. Operator or administrator only.
func (l *Ledger) Complete(ctx context.Context, actor Actor, appointmentID string) (Appointment, error) {
	return l.transition(ctx, actor, appointmentID, StatusCompleted)
}

func (l *Ledger) transition(ctx context.Context, actor Actor, appointmentID string, to Status) (Appointment, error) {
	if appointmentID == "" {
		return Appointment{}, invalid("appointmentId", "required")
	}

	// One guarded retry: if the compare-and-set loses a race the appointment
	// is re-read and the transition re-evaluated against its new status.
	for attempt := 0; attempt < 2; attempt++ {
		appt, err := l.store.Get(ctx, appointmentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Appointment{}, ErrNotFound
			}
			return Appointment{}, storeErr(err)
		}

		if err := authorizeTransition(actor, appt.UserID, to); err != nil {
			return Appointment{}, err
		}
		// Idempotent cancel, for callers allowed to cancel in the first place.
		if to == StatusCancelled && appt.Status == StatusCancelled {
			return appt, nil
		}
		if !CanTransition(appt.Status, to) {
			return Appointment{}, ErrInvalidTransition
		}

		updated := appt
		updated.Status = to
		updated.UpdatedAt = l.now().UTC()
		evt, err := l.event(eventFor(to), &updated)
		if err != nil {
			return Appointment{}, err
		}

		ok, err := l.store.UpdateStatus(ctx, appointmentID, appt.Status, to, evt)
		if err != nil {
			return Appointment{}, storeErr(err)
		}
		if ok {
			l.logger.Info("appointment status changed",
				"appointment_id", appointmentID,
				"from", string(appt.Status),
				"to", string(to),
			)
			return updated, nil
		}
	}
	return Appointment{}, ErrInvalidTransition
}

// Get returns a single appointment. Owners may fetch their own; operators
// and administrators may fetch any.
func (l *Ledger) Get(ctx context.Context, actor Actor, appointmentID string) (Appointment, error) {
	if appointmentID == "" {
		return Appointment{}, invalid("appointmentId", "required")
	}
	appt, err := l.store.Get(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, storeErr(err)
	}
	if appt.UserID != actor.UserID && !actor.elevated() {
		return Appointment{}, ErrPermissionDenied
	}
	return appt, nil
}

// ListForUser returns the actor's own appointments; operators and
// administrators may list on behalf of any user.
func (l *Ledger) ListForUser(ctx context.Context, actor Actor, userID string, status Status, limit int) ([]Appointment, error) {
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !actor.elevated() {
		return nil, ErrPermissionDenied
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	appts, err := l.store.ListByUser(ctx, userID, status, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return appts, nil
}

// ValidateRule checks a candidate rule against the operator's existing rules
// and reports the first structural window conflict. This backs both the
// dry-run validate operation and rule creation.
func (l *Ledger) ValidateRule(ctx context.Context, candidate schedule.Rule) error {
	if candidate.Start >= candidate.End {
		return invalid("endTime", "must be after startTime")
	}
	existing, err := l.rules.RulesForOperator(ctx, candidate.OperatorID)
	if err != nil {
		return storeErr(err)
	}
	rules := make([]schedule.Rule, 0, len(existing)+1)
	for _, r := range existing {
		if r.ID == candidate.ID {
			continue // updating a rule must not conflict with itself
		}
		rules = append(rules, r)
	}
	rules = append(rules, candidate)
	if c, found := schedule.FindConflict(rules); found {
		return &ConflictError{
			Reason: RuleOverlap,
			Detail: schedule.DayName(c.A.Day) + " " + c.A.Start.String() + "-" + c.A.End.String() +
				" overlaps " + c.B.Start.String() + "-" + c.B.End.String(),
		}
	}
	return nil
}

func (l *Ledger) zoneFor(ctx context.Context, operatorID string) (*time.Location, error) {
	if operatorID == "" {
		return l.defaultZone, nil
	}
	zone, err := l.rules.OperatorZone(ctx, operatorID)
	if err != nil {
		return nil, storeErr(err)
	}
	if zone == "" {
		return l.defaultZone, nil
	}
	loc, err := schedule.LoadZone(zone)
	if err != nil {
		return nil, invalid("operatorId", "operator has invalid zone %q", zone)
	}
	return loc, nil
}

func (l *Ledger) event(eventType string, appt *Appointment) (Event, error) {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"user_id":        appt.UserID,
		"service_id":     appt.ServiceID,
		"operator_id":    appt.OperatorID,
		"schedule_id":    appt.ScheduleID,
		"start":          appt.Start.UTC().Format(time.RFC3339),
		"end":            appt.End.UTC().Format(time.RFC3339),
		"status":         string(appt.Status),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, AppointmentID: appt.ID, Payload: payload}, nil
}

func eventFor(to Status) string {
	switch to {
	case StatusConfirmed:
		return EventConfirmed
	case StatusCompleted:
		return EventCompleted
	default:
		return EventCancelled
	}
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return errors.Join(ErrStorageUnavailable, err)
}
