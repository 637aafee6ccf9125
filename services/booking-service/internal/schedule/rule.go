package schedule

import (
	"fmt"
	"time"
)

// Exception is a dated override on a rule. Exceptions only remove availability:
// IsAvailable=false blacks the date out, IsAvailable=true re-confirms the
// rule's own window (and, for non-recurring rules, is what activates the date).
// An exception never introduces a differently-shaped window.
type Exception struct {
	Date        time.Time
	IsAvailable bool
	Reason      string
}

// Rule is one operator's weekly availability window for one service.
// A recurring rule applies on every date matching its weekday unless a dated
// exception turns it off. A non-recurring rule applies only on dates listed in
// its exceptions with IsAvailable=true.
type Rule struct {
	ID          string
	OperatorID  string
	ServiceID   string
	Day         time.Weekday
	Start       Clock
	End         Clock
	IsRecurring bool
	Exceptions  []Exception
}

func (r Rule) Validate() error {
	if r.OperatorID == "" {
		return fmt.Errorf("rule %s: operator id required", r.ID)
	}
	if r.ServiceID == "" {
		return fmt.Errorf("rule %s: service id required", r.ID)
	}
	if r.Day < time.Sunday || r.Day > time.Saturday {
		return fmt.Errorf("rule %s: invalid day of week %d", r.ID, r.Day)
	}
	if r.Start >= r.End {
		return fmt.Errorf("rule %s: start %s must be before end %s", r.ID, r.Start, r.End)
	}
	return nil
}

// exception returns the override for the given civil date, if any.
func (r Rule) exception(date time.Time) (Exception, bool) {
	key := DateKey(date)
	for _, ex := range r.Exceptions {
		if DateKey(ex.Date) == key {
			return ex, true
		}
	}
	return Exception{}, false
}

// AppliesOn reports whether the rule's window is in force on the given date.
func (r Rule) AppliesOn(date time.Time) bool {
	if date.Weekday() != r.Day {
		return false
	}
	if ex, ok := r.exception(date); ok {
		return ex.IsAvailable
	}
	return r.IsRecurring
}
