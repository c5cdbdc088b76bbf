package calendar

import (
	"alcyxob/fitness-calendar/internal/domain"
	"sort"
	"time"
)

// Index maps a day key to the workouts scheduled on that day. It is rebuilt
// from scratch whenever the workout list changes.
type Index struct {
	days        map[string][]domain.Workout
	unscheduled []domain.Workout
	scheduled   int
}

// BuildIndex buckets workouts by the date component of their scheduled date.
// Unscheduled workouts are kept apart; unparsable dates land nowhere.
func BuildIndex(workouts []domain.Workout) Index {
	ix := Index{days: make(map[string][]domain.Workout, len(workouts))}
	for _, w := range workouts {
		if w.ScheduledDate == nil {
			ix.unscheduled = append(ix.unscheduled, w)
			continue
		}
		d, ok := ScheduledDay(w.ScheduledDate)
		if !ok {
			continue
		}
		key := d.Key()
		ix.days[key] = append(ix.days[key], w)
		ix.scheduled++
	}
	return ix
}

// On returns the workouts of day d.
func (ix Index) On(d Day) []domain.Workout {
	return ix.days[d.Key()]
}

// Lookup returns the workouts under a raw YYYY-MM-DD key.
func (ix Index) Lookup(key string) []domain.Workout {
	return ix.days[key]
}

// Keys lists the days holding at least one workout, ascending.
func (ix Index) Keys() []string {
	keys := make([]string, 0, len(ix.days))
	for k := range ix.days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Days exposes the underlying map; callers must not mutate it.
func (ix Index) Days() map[string][]domain.Workout {
	return ix.days
}

func (ix Index) Unscheduled() []domain.Workout {
	return ix.unscheduled
}

// Scheduled counts the workouts placed on some day.
func (ix Index) Scheduled() int {
	return ix.scheduled
}

// Cell is one square of a month grid.
type Cell struct {
	Day      Day
	InMonth  bool
	Workouts []domain.Workout
}

// MonthGrid lays out the six-week grid showing month, starting each row on
// weekStart. Leading and trailing days of adjacent months are included.
func MonthGrid(month Day, weekStart time.Weekday, ix Index) [][]Cell {
	first := month.FirstOfMonth()
	offset := (int(first.Weekday()) - int(weekStart) + 7) % 7
	start := first.AddDays(-offset)

	grid := make([][]Cell, 6)
	for week := range grid {
		row := make([]Cell, 7)
		for i := range row {
			d := start.AddDays(week*7 + i)
			row[i] = Cell{Day: d, InMonth: d.SameMonth(first), Workouts: ix.On(d)}
		}
		grid[week] = row
	}
	return grid
}
