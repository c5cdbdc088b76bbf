// Package calendar holds the client-side calendar core: day arithmetic, the
// date-keyed workout index, scope resolution and the drag-to-reschedule
// gesture state machine.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a calendar day with no time or zone attached.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDay normalizes overflowing values the way time.Date does.
func NewDay(year int, month time.Month, day int) Day {
	return DayOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DayOf reads the wall-clock date of t in t's own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

// Today is the current day in loc.
func Today(clock Clock, loc *time.Location) Day {
	return DayOf(clock.Now().In(loc))
}

// ParseDay extracts the date component of a scheduled date. Only the text
// before any 'T' or space is read, so "2025-03-01T00:00:00Z" is March 1st for
// every viewer whatever their UTC offset.
func ParseDay(s string) (Day, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "T "); i >= 0 {
		s = s[:i]
	}
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("parse scheduled date %q: %w", s, err)
	}
	return DayOf(t), nil
}

// ScheduledDay returns the day of a nullable scheduled date; ok is false for
// nil and unparsable values.
func ScheduledDay(scheduled *string) (Day, bool) {
	if scheduled == nil {
		return Day{}, false
	}
	d, err := ParseDay(*scheduled)
	if err != nil {
		return Day{}, false
	}
	return d, true
}

// Key is the canonical YYYY-MM-DD index key.
func (d Day) Key() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Day) String() string { return d.Key() }

func (d Day) IsZero() bool { return d == Day{} }

// Midnight is the start of d in loc.
func (d Day) Midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// Scheduled renders the value Move writes: local midnight of d in loc, with
// the offset kept so the date component stays d.
func (d Day) Scheduled(loc *time.Location) string {
	return d.Midnight(loc).Format(time.RFC3339)
}

func (d Day) Weekday() time.Weekday {
	return d.Midnight(time.UTC).Weekday()
}

func (d Day) AddDays(n int) Day {
	return NewDay(d.Year, d.Month, d.Day+n)
}

func (d Day) FirstOfMonth() Day {
	return Day{Year: d.Year, Month: d.Month, Day: 1}
}

// AddMonths moves by n months and lands on the first of that month.
func (d Day) AddMonths(n int) Day {
	return NewDay(d.Year, d.Month+time.Month(n), 1)
}

func (d Day) SameMonth(o Day) bool {
	return d.Year == o.Year && d.Month == o.Month
}

func (d Day) Before(o Day) bool {
	return d.Key() < o.Key()
}
