package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidClock = errors.New("time of day must match HH:MM")
	ErrInvalidZone  = errors.New("unknown IANA zone")
)

// Clock is a civil time of day, stored as minutes from midnight.
type Clock int

// ParseClock parses a strict HH:MM string (hour 00-23, minute 00-59).
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	var h, m int
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
		}
	}
	h = int(s[0]-'0')*10 + int(s[1]-'0')
	m = int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock(h*60 + m), nil
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Add returns the clock advanced by the given number of minutes.
// The result may exceed 23:59; callers compare, they do not wrap.
func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

// LoadZone resolves an IANA zone id, e.g. "Europe/Kyiv".
func LoadZone(id string) (*time.Location, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidZone, id)
	}
	return loc, nil
}

// At anchors a clock time on the calendar day of date, interpreted in loc.
func At(date time.Time, c Clock, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour(), c.Minute(), 0, 0, loc)
}

// Overlaps reports whether the half-open instant ranges [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// ClocksOverlap is the same half-open test over two time-of-day windows.
func ClocksOverlap(aStart, aEnd, bStart, bEnd Clock) bool {
	return aStart < bEnd && bStart < aEnd
}

// DateKey formats a civil date as YYYY-MM-DD, the key used for exceptions.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseDate parses a strict YYYY-MM-DD civil date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

var dayNames = map[string]time.Weekday{
	"MONDAY":    time.Monday,
	"TUESDAY":   time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"THURSDAY":  time.Thursday,
	"FRIDAY":    time.Friday,
	"SATURDAY":  time.Saturday,
	"SUNDAY":    time.Sunday,
}

// ParseDayOfWeek maps an upper-case day name (MONDAY..SUNDAY) to a weekday.
func ParseDayOfWeek(s string) (time.Weekday, error) {
	if d, ok := dayNames[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown day of week %q", s)
}

// DayName is the inverse of ParseDayOfWeek.
func DayName(d time.Weekday) string {
	return strings.ToUpper(d.String())
}
