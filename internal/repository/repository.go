package repository

import (
	"alcyxob/fitness-calendar/internal/domain" // Import our defined domain models
	"context"                                  // Standard for request-scoped deadlines, cancellation signals, etc.
)

// Error constants for repository layer
var (
	ErrNotFound     = RepositoryError("not found")
	ErrUpdateFailed = RepositoryError("update failed")
	ErrInsertFailed = RepositoryError("insert failed")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// WorkoutFilter selects the workouts of one calendar scope.
// Empty fields are ignored; ProgramIDs and UserID are OR-ed together,
// matching how an athlete's calendar tolerates either key.
type WorkoutFilter struct {
	ProgramIDs []int64
	UserID     *int64
}

// IsEmpty reports whether the filter would match nothing useful.
func (f WorkoutFilter) IsEmpty() bool {
	return len(f.ProgramIDs) == 0 && f.UserID == nil
}

// Matches applies the filter to a single row.
func (f WorkoutFilter) Matches(w *domain.Workout) bool {
	for _, id := range f.ProgramIDs {
		if w.ProgramID == id {
			return true
		}
	}
	return f.UserID != nil && w.UserID == *f.UserID
}

// WorkoutRepository defines the interface for interacting with workout data.
type WorkoutRepository interface {
	Create(ctx context.Context, workout *domain.Workout) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Workout, error)
	// Find returns the scope's workouts ordered by scheduled date, then id.
	Find(ctx context.Context, filter WorkoutFilter) ([]domain.Workout, error)
	// SetScheduledDate writes the only field the calendar mutates.
	SetScheduledDate(ctx context.Context, id int64, scheduled *string) (*domain.Workout, error)
}

// WorkoutExerciseRepository manages the child exercise rows of a workout.
type WorkoutExerciseRepository interface {
	GetByWorkoutID(ctx context.Context, workoutID int64) ([]domain.WorkoutExercise, error)
	// CreateMany inserts rows in order. On failure it returns the rows that
	// were inserted before the error alongside the error.
	CreateMany(ctx context.Context, exercises []domain.WorkoutExercise) ([]domain.WorkoutExercise, error)
}

// ProgramRepository is used to authorize coach access to a program's calendar.
type ProgramRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Program, error)
}

// UserRepository is used to authorize coach access to an athlete's calendar.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// ChangeFeed delivers coarse "something changed" notifications for rows in
// a scope. No diff is guaranteed; listeners are expected to refetch.
type ChangeFeed interface {
	// Watch registers onChange and returns once the watch is established.
	// The watch stops when ctx is cancelled.
	Watch(ctx context.Context, filter WorkoutFilter, onChange func()) error
}
