package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/okovalchuk/slotline/services/booking-service/internal/schedule"
)

type stubRules struct {
	rules map[string][]schedule.Rule // keyed by operator id
	zones map[string]string
}

func (s *stubRules) RulesForService(_ context.Context, serviceID, operatorID string) ([]schedule.Rule, error) {
	var out []schedule.Rule
	for op, rules := range s.rules {
		if operatorID != "" && op != operatorID {
			continue
		}
		for _, r := range rules {
			if r.ServiceID == serviceID {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (s *stubRules) RulesForOperator(_ context.Context, operatorID string) ([]schedule.Rule, error) {
	return s.rules[operatorID], nil
}

func (s *stubRules) OperatorZone(_ context.Context, operatorID string) (string, error) {
	return s.zones[operatorID], nil
}

func clock(t *testing.T, s string) schedule.Clock {
	t.Helper()
	c, err := schedule.ParseClock(s)
	if err != nil {
		t.Fatalf("parse clock %q: %v", s, err)
	}
	return c
}

// tuesday is a fixed future Tuesday used throughout; "now" is pinned before it.
var (
	tuesday = time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
)

func newTestLedger(t *testing.T, store Store, rules RuleSource) *Ledger {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLedger(store, rules, logger, LedgerConfig{
		Now: func() time.Time { return testNow },
	})
}

func defaultRules(t *testing.T) *stubRules {
	t.Helper()
	return &stubRules{
		rules: map[string][]schedule.Rule{
			"op-1": {{
				ID:          "rule-1",
				OperatorID:  "op-1",
				ServiceID:   "svc-1",
				Day:         time.Tuesday,
				Start:       clock(t, "09:00"),
				End:         clock(t, "11:00"),
				IsRecurring: true,
			}},
		},
		zones: map[string]string{},
	}
}

func TestListAvailable(t *testing.T) {
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, defaultRules(t))

	slots, err := ledger.ListAvailable(context.Background(), SlotQuery{
		ServiceID: "svc-1",
		DateFrom:  tuesday,
		DateTo:    tuesday,
		Duration:  30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
}

func TestListAvailable_Validation(t *testing.T) {
	ledger := newTestLedger(t, NewMemoryStore(), defaultRules(t))
	ctx := context.Background()

	_, err := ledger.ListAvailable(ctx, SlotQuery{DateFrom: tuesday, DateTo: tuesday, Duration: time.Hour})
	if !IsValidation(err) {
		t.Fatalf("missing serviceId: expected validation error, got %v", err)
	}
	_, err = ledger.ListAvailable(ctx, SlotQuery{ServiceID: "svc-1", DateFrom: tuesday, DateTo: tuesday})
	if !IsValidation(err) {
		t.Fatalf("zero duration: expected validation error, got %v", err)
	}
	_, err = ledger.ListAvailable(ctx, SlotQuery{
		ServiceID: "svc-1", DateFrom: tuesday, DateTo: tuesday.AddDate(0, 0, -1), Duration: time.Hour,
	})
	if !IsValidation(err) {
		t.Fatalf("inverted range: expected validation error, got %v", err)
	}
	_, err = ledger.ListAvailable(ctx, SlotQuery{
		ServiceID: "svc-1", DateFrom: tuesday, DateTo: tuesday.AddDate(0, 0, 120), Duration: time.Hour,
	})
	if !IsValidation(err) {
		t.Fatalf("oversized range: expected validation error, got %v", err)
	}
}

func TestReserveRemovesSlotFromAvailability(t *testing.T) {
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, defaultRules(t))
	ctx := context.Background()
	actor := Actor{Role: RoleUser, UserID: "u1"}

	appt, err := ledger.Reserve(ctx, actor, ReserveRequest{
		ServiceID:  "svc-1",
		OperatorID: "op-1",
		ScheduleID: "rule-1",
		Start:      tuesday.Add(9 * time.Hour),
		End:        tuesday.Add(9*time.Hour + 30*time.Minute),
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if appt.Status != StatusPending {
		t.Fatalf("new appointment should be pending, got %s", appt.Status)
	}

	slots, err := ledger.ListAvailable(ctx, SlotQuery{
		ServiceID: "svc-1", DateFrom: tuesday, DateTo: tuesday, Duration: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 remaining slots, got %d", len(slots))
	}
	for _, s := range slots {
		if s.Start.Equal(appt.Start) {
			t.Fatal("reserved slot still listed as available")
		}
	}

	// Cancelling returns the slot.
	if _, err := ledger.Cancel(ctx, actor, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	slots, err = ledger.ListAvailable(ctx, SlotQuery{
		ServiceID: "svc-1", DateFrom: tuesday, DateTo: tuesday, Duration: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("list available after cancel: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots after cancel, got %d", len(slots))
	}
}

func TestReserve_PartialOverlapConflicts(t *testing.T) {
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, defaultRules(t))
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, Actor{Role: RoleUser, UserID: "u1"}, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
		Start: tuesday.Add(9 * time.Hour), End: tuesday.Add(10 * time.Hour),
	})
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	_, err = ledger.Reserve(ctx, Actor{Role: RoleUser, UserID: "u2"}, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
		Start: tuesday.Add(9*time.Hour + 30*time.Minute), End: tuesday.Add(10*time.Hour + 30*time.Minute),
	})
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Reason != SlotTaken {
		t.Fatalf("expected slot_taken conflict, got %v", err)
	}

	// Back-to-back is fine.
	_, err = ledger.Reserve(ctx, Actor{Role: RoleUser, UserID: "u3"}, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
		Start: tuesday.Add(10 * time.Hour), End: tuesday.Add(11 * time.Hour),
	})
	if err != nil {
		t.Fatalf("adjacent reserve: %v", err)
	}
}

func TestReserve_ConcurrentSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, defaultRules(t))
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	results := make(chan error, n)
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := ledger.Reserve(ctx, Actor{Role: RoleUser, UserID: "u" + string(rune('a'+i%26))}, ReserveRequest{
				ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
				Start: tuesday.Add(9 * time.Hour), End: tuesday.Add(9*time.Hour + 30*time.Minute),
			})
			results <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)

	won, lost := 0, 0
	for err := range results {
		switch {
		case err == nil:
			won++
		case IsConflict(err):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != n-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d and %d", n-1, won, lost)
	}
}

func TestReserve_OutsideRuleWindow(t *testing.T) {
	ledger := newTestLedger(t, NewMemoryStore(), defaultRules(t))
	ctx := context.Background()
	actor := Actor{Role: RoleUser, UserID: "u1"}

	// Before the window opens.
	_, err := ledger.Reserve(ctx, actor, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
		Start: tuesday.Add(8 * time.Hour), End: tuesday.Add(9 * time.Hour),
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error outside window, got %v", err)
	}

	// Wrong weekday.
	wednesday := tuesday.AddDate(0, 0, 1)
	_, err = ledger.Reserve(ctx, actor, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
		Start: wednesday.Add(9 * time.Hour), End: wednesday.Add(10 * time.Hour),
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error on wrong weekday, got %v", err)
	}

	// Unknown rule.
	_, err = ledger.Reserve(ctx, actor, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-404",
		Start: tuesday.Add(9 * time.Hour), End: tuesday.Add(10 * time.Hour),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown rule, got %v", err)
	}
}

func TestReserve_Validation(t *testing.T) {
	ledger := newTestLedger(t, NewMemoryStore(), defaultRules(t))
	ctx := context.Background()
	actor := Actor{Role: RoleUser, UserID: "u1"}

	_, err := ledger.Reserve(ctx, Actor{Role: RoleUser}, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1",
		Start: tuesday.Add(9 * time.Hour), End: tuesday.Add(10 * time.Hour),
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("anonymous reserve: expected permission denied, got %v", err)
	}

	_, err = ledger.Reserve(ctx, actor, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1",
		Start: tuesday.Add(10 * time.Hour), End: tuesday.Add(9 * time.Hour),
	})
	if !IsValidation(err) {
		t.Fatalf("inverted range: expected validation error, got %v", err)
	}

	long := make([]byte, maxNotesLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = ledger.Reserve(ctx, actor, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1",
		Start: tuesday.Add(9 * time.Hour), End: tuesday.Add(10 * time.Hour),
		Notes: string(long),
	})
	if !IsValidation(err) {
		t.Fatalf("oversized notes: expected validation error, got %v", err)
	}
}

func TestTransitions(t *testing.T) {
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, defaultRules(t))
	ctx := context.Background()
	owner := Actor{Role: RoleUser, UserID: "u1"}
	operator := Actor{Role: RoleOperator, UserID: "op-1"}

	appt, err := ledger.Reserve(ctx, owner, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
		Start: tuesday.Add(9 * time.Hour), End: tuesday.Add(10 * time.Hour),
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Owner cannot confirm.
	if _, err := ledger.Confirm(ctx, owner, appt.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("owner confirm: expected permission denied, got %v", err)
	}
	// Completing a pending appointment is illegal even for an operator.
	if _, err := ledger.Complete(ctx, operator, appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete pending: expected invalid transition, got %v", err)
	}

	confirmed, err := ledger.Confirm(ctx, operator, appt.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}

	done, err := ledger.Complete(ctx, operator, appt.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}

	// Completed is terminal.
	if _, err := ledger.Cancel(ctx, owner, appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel completed: expected invalid transition, got %v", err)
	}

	if _, err := ledger.Confirm(ctx, operator, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("confirm missing: expected not found, got %v", err)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, defaultRules(t))
	ctx := context.Background()
	owner := Actor{Role: RoleUser, UserID: "u1"}

	appt, err := ledger.Reserve(ctx, owner, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
		Start: tuesday.Add(9 * time.Hour), End: tuesday.Add(10 * time.Hour),
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	first, err := ledger.Cancel(ctx, owner, appt.ID)
	if err != nil || first.Status != StatusCancelled {
		t.Fatalf("first cancel: %v (status %s)", err, first.Status)
	}
	events := len(store.Events())

	second, err := ledger.Cancel(ctx, owner, appt.ID)
	if err != nil || second.Status != StatusCancelled {
		t.Fatalf("repeated cancel must be a no-op success: %v", err)
	}
	if len(store.Events()) != events {
		t.Fatal("repeated cancel must not emit another event")
	}

	appt2, err := ledger.Reserve(ctx, owner, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
		Start: tuesday.Add(10 * time.Hour), End: tuesday.Add(11 * time.Hour),
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := ledger.Cancel(ctx, Actor{Role: RoleUser, UserID: "stranger"}, appt2.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("stranger cancel: expected permission denied, got %v", err)
	}
}

func TestCancel_NoOpStillRequiresAuthorization(t *testing.T) {
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, defaultRules(t))
	ctx := context.Background()
	owner := Actor{Role: RoleUser, UserID: "u1"}

	appt, err := ledger.Reserve(ctx, owner, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
		Start: tuesday.Add(9 * time.Hour), End: tuesday.Add(10 * time.Hour),
		Notes: "allergy details for the clinician",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := ledger.Cancel(ctx, owner, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The no-op path must not hand a cancelled appointment to a stranger who
	// merely knows the id.
	got, err := ledger.Cancel(ctx, Actor{Role: RoleUser, UserID: "stranger"}, appt.ID)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("stranger cancel of cancelled: expected permission denied, got %v", err)
	}
	if got.Notes != "" || got.ID != "" {
		t.Fatalf("denied cancel must not return appointment data, got %+v", got)
	}

	// An operator may not cancel on behalf of another user either.
	if _, err := ledger.Cancel(ctx, Actor{Role: RoleOperator, UserID: "op-1"}, appt.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("operator cancel of cancelled: expected permission denied, got %v", err)
	}

	// The owner's repeat cancel stays a no-op success.
	if _, err := ledger.Cancel(ctx, owner, appt.ID); err != nil {
		t.Fatalf("owner repeat cancel: %v", err)
	}
}

func TestEventsRecordedWithMutations(t *testing.T) {
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, defaultRules(t))
	ctx := context.Background()
	owner := Actor{Role: RoleUser, UserID: "u1"}
	operator := Actor{Role: RoleOperator, UserID: "op-1"}

	appt, err := ledger.Reserve(ctx, owner, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
		Start: tuesday.Add(9 * time.Hour), End: tuesday.Add(10 * time.Hour),
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := ledger.Confirm(ctx, operator, appt.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := ledger.Complete(ctx, operator, appt.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	events := store.Events()
	want := []string{EventReserved, EventConfirmed, EventCompleted}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Fatalf("event %d: expected %s, got %s", i, w, events[i].Type)
		}
		if events[i].AppointmentID != appt.ID {
			t.Fatalf("event %d carries wrong appointment id", i)
		}
	}
}

func TestListForUser(t *testing.T) {
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, defaultRules(t))
	ctx := context.Background()
	owner := Actor{Role: RoleUser, UserID: "u1"}

	for i := 0; i < 3; i++ {
		start := tuesday.Add(time.Duration(9+i) * time.Hour)
		if i == 2 {
			start = tuesday.AddDate(0, 0, 7).Add(9 * time.Hour)
		}
		if _, err := ledger.Reserve(ctx, owner, ReserveRequest{
			ServiceID: "svc-1", OperatorID: "op-1",
			Start: start, End: start.Add(30 * time.Minute),
		}); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}

	appts, err := ledger.ListForUser(ctx, owner, "", "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(appts) != 3 {
		t.Fatalf("expected 3 appointments, got %d", len(appts))
	}
	for i := 1; i < len(appts); i++ {
		if appts[i].Start.After(appts[i-1].Start) {
			t.Fatal("appointments must be newest first")
		}
	}

	// A plain user may not list someone else's.
	if _, err := ledger.ListForUser(ctx, Actor{Role: RoleUser, UserID: "u2"}, "u1", "", 0); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	// An operator may.
	appts, err = ledger.ListForUser(ctx, Actor{Role: RoleOperator, UserID: "op-1"}, "u1", StatusPending, 0)
	if err != nil {
		t.Fatalf("operator list: %v", err)
	}
	if len(appts) != 3 {
		t.Fatalf("expected 3 pending appointments, got %d", len(appts))
	}
}

func TestValidateRule(t *testing.T) {
	rules := defaultRules(t)
	ledger := newTestLedger(t, NewMemoryStore(), rules)
	ctx := context.Background()

	conflicting := schedule.Rule{
		ID: "rule-2", OperatorID: "op-1", ServiceID: "svc-1",
		Day: time.Tuesday, Start: clock(t, "10:30"), End: clock(t, "12:00"), IsRecurring: true,
	}
	err := ledger.ValidateRule(ctx, conflicting)
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Reason != RuleOverlap {
		t.Fatalf("expected rule_overlap conflict, got %v", err)
	}

	adjacent := conflicting
	adjacent.Start, adjacent.End = clock(t, "11:00"), clock(t, "12:00")
	if err := ledger.ValidateRule(ctx, adjacent); err != nil {
		t.Fatalf("adjacent rule should validate: %v", err)
	}

	otherDay := conflicting
	otherDay.Day = time.Wednesday
	if err := ledger.ValidateRule(ctx, otherDay); err != nil {
		t.Fatalf("other-day rule should validate: %v", err)
	}

	// Updating a rule must not conflict with its own stored copy.
	self := rules.rules["op-1"][0]
	self.End = clock(t, "12:00")
	if err := ledger.ValidateRule(ctx, self); err != nil {
		t.Fatalf("self-update should validate: %v", err)
	}

	inverted := conflicting
	inverted.Start, inverted.End = clock(t, "12:00"), clock(t, "10:00")
	if !IsValidation(ledger.ValidateRule(ctx, inverted)) {
		t.Fatal("inverted window must fail validation")
	}
}

func TestOperatorZoneInterpretsWindows(t *testing.T) {
	rules := defaultRules(t)
	rules.zones["op-1"] = "Europe/Kyiv"
	ledger := newTestLedger(t, NewMemoryStore(), rules)

	slots, err := ledger.ListAvailable(context.Background(), SlotQuery{
		ServiceID: "svc-1", OperatorID: "op-1",
		DateFrom: tuesday, DateTo: tuesday, Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	// 09:00 Kyiv (summer, UTC+3) is 06:00 UTC.
	if slots[0].Start.UTC().Hour() != 6 {
		t.Fatalf("expected 06:00 UTC start, got %s", slots[0].Start.UTC())
	}
}

func TestListAvailable_MixedOperatorZones(t *testing.T) {
	rules := defaultRules(t)
	rules.rules["op-2"] = []schedule.Rule{{
		ID:          "rule-2",
		OperatorID:  "op-2",
		ServiceID:   "svc-1",
		Day:         time.Tuesday,
		Start:       clock(t, "09:00"),
		End:         clock(t, "11:00"),
		IsRecurring: true,
	}}
	rules.zones["op-2"] = "Asia/Tokyo"
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, rules)
	ctx := context.Background()

	slots, err := ledger.ListAvailable(ctx, SlotQuery{
		ServiceID: "svc-1", DateFrom: tuesday, DateTo: tuesday, Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots across both operators, got %d", len(slots))
	}
	// op-2's 09:00 window is Tokyo time (UTC+9), so it sorts first at 00:00 UTC;
	// op-1 stays on the portal default UTC.
	if slots[0].OperatorID != "op-2" || !slots[0].Start.Equal(tuesday) {
		t.Fatalf("first slot should be op-2 at 00:00 UTC, got %s at %s", slots[0].OperatorID, slots[0].Start.UTC())
	}
	if slots[2].OperatorID != "op-1" || slots[2].Start.UTC().Hour() != 9 {
		t.Fatalf("third slot should be op-1 at 09:00 UTC, got %s at %s", slots[2].OperatorID, slots[2].Start.UTC())
	}

	// Every advertised slot must be reservable as returned.
	for i, s := range slots {
		if _, err := ledger.Reserve(ctx, Actor{Role: RoleUser, UserID: "u1"}, ReserveRequest{
			ServiceID:  s.ServiceID,
			OperatorID: s.OperatorID,
			ScheduleID: s.ScheduleID,
			Start:      s.Start,
			End:        s.End,
		}); err != nil {
			t.Fatalf("slot %d (%s at %s) not reservable: %v", i, s.OperatorID, s.Start.UTC(), err)
		}
	}
}

func TestRuleDeletionKeepsAppointments(t *testing.T) {
	rules := defaultRules(t)
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, rules)
	ctx := context.Background()
	owner := Actor{Role: RoleUser, UserID: "u1"}

	appt, err := ledger.Reserve(ctx, owner, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
		Start: tuesday.Add(9 * time.Hour), End: tuesday.Add(10 * time.Hour),
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// The rule disappears; future slot generation stops but the appointment
	// keeps its reserved range and stays cancellable.
	delete(rules.rules, "op-1")

	slots, err := ledger.ListAvailable(ctx, SlotQuery{
		ServiceID: "svc-1", DateFrom: tuesday, DateTo: tuesday, Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots after rule removal, got %d", len(slots))
	}

	got, err := ledger.Get(ctx, owner, appt.ID)
	if err != nil {
		t.Fatalf("get after rule removal: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("appointment should still be pending, got %s", got.Status)
	}
	if _, err := ledger.Cancel(ctx, owner, appt.ID); err != nil {
		t.Fatalf("cancel after rule removal: %v", err)
	}
}

func TestGet(t *testing.T) {
	store := NewMemoryStore()
	ledger := newTestLedger(t, store, defaultRules(t))
	ctx := context.Background()
	owner := Actor{Role: RoleUser, UserID: "u1"}

	appt, err := ledger.Reserve(ctx, owner, ReserveRequest{
		ServiceID: "svc-1", OperatorID: "op-1", ScheduleID: "rule-1",
		Start: tuesday.Add(9 * time.Hour), End: tuesday.Add(10 * time.Hour),
		Notes: "bring referral letter",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	got, err := ledger.Get(ctx, owner, appt.ID)
	if err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if got.ID != appt.ID || got.Notes != "bring referral letter" {
		t.Fatalf("unexpected appointment %+v", got)
	}

	if _, err := ledger.Get(ctx, Actor{Role: RoleUser, UserID: "u2"}, appt.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("stranger get: expected permission denied, got %v", err)
	}
	if _, err := ledger.Get(ctx, Actor{Role: RoleOperator, UserID: "op-1"}, appt.ID); err != nil {
		t.Fatalf("operator get: %v", err)
	}
	if _, err := ledger.Get(ctx, owner, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id: expected not found, got %v", err)
	}
	if _, err := ledger.Get(ctx, owner, ""); !IsValidation(err) {
		t.Fatalf("empty id: expected validation error, got %v", err)
	}
}

func TestListAvailable_DropsStartedSlots(t *testing.T) {
	rules := defaultRules(t)
	ledger := NewLedger(NewMemoryStore(), rules, slog.New(slog.NewTextHandler(io.Discard, nil)), LedgerConfig{
		Now: func() time.Time { return tuesday.Add(9*time.Hour + 31*time.Minute) },
	})

	slots, err := ledger.ListAvailable(context.Background(), SlotQuery{
		ServiceID: "svc-1", DateFrom: tuesday, DateTo: tuesday, Duration: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	// 09:00 and 09:30 have already begun; 10:00 and 10:30 remain.
	if len(slots) != 2 {
		t.Fatalf("expected 2 future slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(tuesday.Add(10 * time.Hour)) {
		t.Fatalf("first future slot should be 10:00, got %s", slots[0].Start)
	}
}
