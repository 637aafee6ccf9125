package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okovalchuk/slotline/services/booking-service/internal/schedule"
)

// MemoryStore is a mutex-guarded Store for single-instance deployments and
// tests. The lock serializes check-then-insert, giving the same at-most-one-
// winner guarantee the Postgres store gets from its exclusion constraint.
type MemoryStore struct {
	mu     sync.Mutex
	appts  map[string]Appointment
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{appts: make(map[string]Appointment)}
}

func (s *MemoryStore) Reserve(_ context.Context, appt *Appointment, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.appts {
		if !existing.Status.Blocking() {
			continue
		}
		if existing.OperatorID != appt.OperatorID || existing.ServiceID != appt.ServiceID {
			continue
		}
		if schedule.Overlaps(appt.Start, appt.End, existing.Start, existing.End) {
			return ErrSlotConflict
		}
	}

	s.appts[appt.ID] = *appt
	s.events = append(s.events, evt)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appts[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return appt, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, from, to Status, evt Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appts[id]
	if !ok {
		return false, ErrNotFound
	}
	if appt.Status != from {
		return false, nil
	}
	appt.Status = to
	appt.UpdatedAt = time.Now().UTC()
	s.appts[id] = appt
	s.events = append(s.events, evt)
	return true, nil
}

func (s *MemoryStore) ListBlocking(_ context.Context, serviceID, operatorID string, from, to time.Time) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Appointment
	for _, appt := range s.appts {
		if !appt.Status.Blocking() || appt.ServiceID != serviceID {
			continue
		}
		if operatorID != "" && appt.OperatorID != operatorID {
			continue
		}
		if schedule.Overlaps(appt.Start, appt.End, from, to) {
			out = append(out, appt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, status Status, limit int) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Appointment
	for _, appt := range s.appts {
		if appt.UserID != userID {
			continue
		}
		if status != "" && appt.Status != status {
			continue
		}
		out = append(out, appt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns the recorded domain events in order.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
