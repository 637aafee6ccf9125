package schedule

import (
	"sort"
	"time"
)

// Slot is a candidate booking window derived from a rule. Slots are value
// types recomputed per query; they are never persisted or cached.
type Slot struct {
	OperatorID string
	ServiceID  string
	ScheduleID string
	Start      time.Time
	End        time.Time
}

// Interval is a booked [Start, End) range that removes capacity.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Generate produces every bookable slot for the given rules over the civil
// date range [dateFrom, dateTo] (inclusive), partitioning each in-force rule
// window into consecutive slots of length duration and dropping a short tail.
// Busy intervals are keyed by operator id; a slot intersecting any busy
// interval of its operator is excluded. Output is sorted by (start, operator).
//
// Rule windows are anchored in loc. The caller validates the range span and
// duration; nonsensical inputs yield an empty result, not an error.
func Generate(rules []Rule, dateFrom, dateTo time.Time, duration time.Duration, busy map[string][]Interval, loc *time.Location) []Slot {
	if duration <= 0 || dateTo.Before(dateFrom) {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	var slots []Slot
	for date := dateFrom; !date.After(dateTo); date = date.AddDate(0, 0, 1) {
		for _, r := range rules {
			if !r.AppliesOn(date) {
				continue
			}
			windowStart := At(date, r.Start, loc)
			windowEnd := At(date, r.End, loc)
			for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(duration) {
				end := t.Add(duration)
				if intersectsAny(t, end, busy[r.OperatorID]) {
					continue
				}
				slots = append(slots, Slot{
					OperatorID: r.OperatorID,
					ServiceID:  r.ServiceID,
					ScheduleID: r.ID,
					Start:      t,
					End:        end,
				})
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Start.Equal(slots[j].Start) {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].OperatorID < slots[j].OperatorID
	})
	return slots
}

func intersectsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}
