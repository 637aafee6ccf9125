package schedule

import "sort"

// Conflict is the first pair of rules found claiming intersecting windows.
type Conflict struct {
	A Rule
	B Rule
}

// FindConflict scans one operator's rules for a pair sharing a weekday with
// intersecting [start, end) windows. The scan is deterministic: rules are
// ordered by ascending id and the first conflicting pair wins. Exceptions are
// not consulted here; they affect slot generation, not rule structure.
func FindConflict(rules []Rule) (Conflict, bool) {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			a, b := ordered[i], ordered[j]
			if a.Day != b.Day {
				continue
			}
			if ClocksOverlap(a.Start, a.End, b.Start, b.End) {
				return Conflict{A: a, B: b}, true
			}
		}
	}
	return Conflict{}, false
}
