package domain

import (
	"time"
)

// WorkoutExercise is one exercise prescribed inside a strength Workout.
// Rows are owned by the workout and cloned along with it on duplicate.
type WorkoutExercise struct {
	ID           int64  `bson:"_id" json:"id"`
	WorkoutID    int64  `bson:"workoutId" json:"workout_id"` // Link to the parent Workout
	ExerciseName string `bson:"exerciseName" json:"exercise_name"`
	// Execution details
	Sets        *int    `bson:"sets,omitempty" json:"sets,omitempty"`
	Reps        *string `bson:"reps,omitempty" json:"reps,omitempty"`     // e.g., "8-12", "AMRAP"
	Weight      *string `bson:"weight,omitempty" json:"weight,omitempty"` // e.g., "60kg", "BW"
	RestSeconds *int    `bson:"restSeconds,omitempty" json:"rest_seconds,omitempty"`
	Notes       string  `bson:"notes,omitempty" json:"notes,omitempty"`
	Sequence    int     `bson:"sequence" json:"sequence"` // Order within the workout
	// Athlete tracking
	Completed bool      `bson:"completed" json:"completed"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}
