package domain

import (
	"time"
)

// WorkoutTypeStrength marks workouts whose exercises live in child rows.
const WorkoutTypeStrength = "strength"

// Workout represents a single scheduled session inside a Program.
// ScheduledDate is kept as text so the writer's UTC offset survives storage:
// the calendar day is always read from the date component of this string.
type Workout struct {
	ID              int64     `bson:"_id" json:"id"`
	ProgramID       int64     `bson:"programId" json:"program_id"`
	UserID          int64     `bson:"userId" json:"user_id"` // Athlete the workout is for
	Name            string    `bson:"name" json:"name"`
	WorkoutType     string    `bson:"workoutType,omitempty" json:"workout_type,omitempty"` // e.g., "strength", "run", "mobility"
	Description     string    `bson:"description,omitempty" json:"description,omitempty"`
	DurationMinutes *int      `bson:"durationMinutes,omitempty" json:"duration_minutes,omitempty"`
	Notes           string    `bson:"notes,omitempty" json:"notes,omitempty"`
	ScheduledDate   *string   `bson:"scheduledDate" json:"scheduled_date"` // nil = unscheduled
	Completed       bool      `bson:"completed" json:"completed"`
	CreatedAt       time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt       time.Time `bson:"updatedAt" json:"updated_at"`
}

// IsStrength reports whether the workout carries child exercise rows.
func (w *Workout) IsStrength() bool {
	return w.WorkoutType == WorkoutTypeStrength
}

// Clone returns a deep copy, so callers can mutate pointers safely.
func (w Workout) Clone() Workout {
	if w.ScheduledDate != nil {
		s := *w.ScheduledDate
		w.ScheduledDate = &s
	}
	if w.DurationMinutes != nil {
		d := *w.DurationMinutes
		w.DurationMinutes = &d
	}
	return w
}

// CloneWorkouts deep-copies a workout list.
func CloneWorkouts(in []Workout) []Workout {
	if in == nil {
		return nil
	}
	out := make([]Workout, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
