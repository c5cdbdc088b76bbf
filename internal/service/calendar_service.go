package service

import (
	"alcyxob/fitness-calendar/internal/calendar"
	"alcyxob/fitness-calendar/internal/domain"
	"alcyxob/fitness-calendar/internal/repository"
	"context"
	"errors"
	"fmt"
	"time"
)

// --- Error Definitions ---
var (
	ErrWorkoutNotFound  = errors.New("workout not found")
	ErrProgramNotFound  = errors.New("program not found")
	ErrAthleteNotFound  = errors.New("athlete not found")
	ErrUnchanged        = errors.New("workout is already scheduled on that day")
	ErrReadOnly         = errors.New("calendar is read-only")
	ErrAccessDenied     = errors.New("access denied to this calendar")
	ErrScheduleFailed   = errors.New("failed to reschedule workout")
	ErrDuplicateFailed  = errors.New("failed to duplicate workout")
	ErrExerciseCopyFail = errors.New("workout duplicated but some exercises were not copied")
)

const copySuffix = " (Copy)"

// Publisher fans a change out to other observers. It never fails the write.
type Publisher interface {
	Publish(ctx context.Context, origin string, msg domain.ChangeMessage)
}

// Viewer identifies who is looking at a calendar.
type Viewer struct {
	ID   int64
	Role domain.Role
}

// MoveRequest reschedules Workout (the caller's current copy) onto Day.
type MoveRequest struct {
	Workout  domain.Workout
	Day      calendar.Day
	Location *time.Location
	Origin   string
}

type MoveResult struct {
	Workout domain.Workout
	Message domain.ChangeMessage
}

// DuplicateRequest clones a workout, optionally onto Target.
type DuplicateRequest struct {
	WorkoutID int64
	Target    *calendar.Day
	Location  *time.Location
	Origin    string
}

type DuplicateResult struct {
	Workout   domain.Workout
	Exercises []domain.WorkoutExercise
	// ChildErr reports exercise rows that could not be copied; the new
	// workout exists regardless.
	ChildErr error
	Message  domain.ChangeMessage
}

type CalendarService interface {
	ListWorkouts(ctx context.Context, filter repository.WorkoutFilter) ([]domain.Workout, error)
	GetWorkout(ctx context.Context, id int64) (*domain.Workout, error)
	MoveWorkout(ctx context.Context, req MoveRequest) (*MoveResult, error)
	DuplicateWorkout(ctx context.Context, req DuplicateRequest) (*DuplicateResult, error)

	// AuthorizeWorkout checks the viewer may reschedule or duplicate w.
	AuthorizeWorkout(ctx context.Context, viewer Viewer, w *domain.Workout) error
	// AuthorizeScope checks the viewer may open the calendar pinned by
	// programID or userID (both nil = the viewer's own calendar).
	AuthorizeScope(ctx context.Context, viewer Viewer, programID, userID *int64) error
}

// --- Service Implementation ---

type calendarService struct {
	workoutRepo  repository.WorkoutRepository
	exerciseRepo repository.WorkoutExerciseRepository
	programRepo  repository.ProgramRepository
	userRepo     repository.UserRepository
	publisher    Publisher
}

// NewCalendarService creates the service. publisher may be nil, in which case
// changes are written but not broadcast.
func NewCalendarService(
	workoutRepo repository.WorkoutRepository,
	exerciseRepo repository.WorkoutExerciseRepository,
	programRepo repository.ProgramRepository,
	userRepo repository.UserRepository,
	publisher Publisher,
) CalendarService {
	return &calendarService{
		workoutRepo:  workoutRepo,
		exerciseRepo: exerciseRepo,
		programRepo:  programRepo,
		userRepo:     userRepo,
		publisher:    publisher,
	}
}

func (s *calendarService) ListWorkouts(ctx context.Context, filter repository.WorkoutFilter) ([]domain.Workout, error) {
	return s.workoutRepo.Find(ctx, filter)
}

func (s *calendarService) GetWorkout(ctx context.Context, id int64) (*domain.Workout, error) {
	w, err := s.workoutRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWorkoutNotFound
		}
		return nil, err
	}
	return w, nil
}

// MoveWorkout writes the new scheduled date, then announces it. Nothing is
// written or announced when the workout already sits on that day.
func (s *calendarService) MoveWorkout(ctx context.Context, req MoveRequest) (*MoveResult, error) {
	if req.Workout.ID == 0 || req.Day.IsZero() {
		return nil, errors.New("workout ID and target day are required")
	}
	if current, ok := calendar.ScheduledDay(req.Workout.ScheduledDate); ok && current == req.Day {
		return nil, ErrUnchanged
	}
	loc := req.Location
	if loc == nil {
		loc = time.Local
	}

	scheduled := req.Day.Scheduled(loc)
	updated, err := s.workoutRepo.SetScheduledDate(ctx, req.Workout.ID, &scheduled)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWorkoutNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrScheduleFailed, err)
	}

	msg := domain.NewUpdatedMessage(updated, domain.ScheduleChange(updated.ScheduledDate))
	s.publish(ctx, req.Origin, msg)
	return &MoveResult{Workout: *updated, Message: msg}, nil
}

// DuplicateWorkout inserts an uncompleted copy of a workout and, for strength
// workouts, of its exercise rows. A failed child insert is reported in
// DuplicateResult.ChildErr and does not undo the copy.
func (s *calendarService) DuplicateWorkout(ctx context.Context, req DuplicateRequest) (*DuplicateResult, error) {
	original, err := s.GetWorkout(ctx, req.WorkoutID)
	if err != nil {
		return nil, err
	}

	var children []domain.WorkoutExercise
	var childErr error
	if original.IsStrength() {
		children, err = s.exerciseRepo.GetByWorkoutID(ctx, original.ID)
		if err != nil {
			childErr = fmt.Errorf("%w: read exercises: %v", ErrExerciseCopyFail, err)
		}
	}

	dup := original.Clone()
	dup.ID = 0
	dup.Name = original.Name + copySuffix
	dup.Completed = false
	dup.ScheduledDate = nil
	if req.Target != nil {
		loc := req.Location
		if loc == nil {
			loc = time.Local
		}
		scheduled := req.Target.Scheduled(loc)
		dup.ScheduledDate = &scheduled
	}

	if _, err := s.workoutRepo.Create(ctx, &dup); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateFailed, err)
	}

	result := &DuplicateResult{Workout: dup, Exercises: []domain.WorkoutExercise{}, ChildErr: childErr}
	if len(children) > 0 {
		clones := make([]domain.WorkoutExercise, len(children))
		for i, c := range children {
			c.ID = 0
			c.WorkoutID = dup.ID
			c.Completed = false
			clones[i] = c
		}
		inserted, err := s.exerciseRepo.CreateMany(ctx, clones)
		result.Exercises = inserted
		if err != nil {
			result.ChildErr = fmt.Errorf("%w: copied %d of %d: %v", ErrExerciseCopyFail, len(inserted), len(clones), err)
		}
	}

	result.Message = domain.NewCreatedMessage(&dup)
	s.publish(ctx, req.Origin, result.Message)
	return result, nil
}

func (s *calendarService) publish(ctx context.Context, origin string, msg domain.ChangeMessage) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, origin, msg)
}

// === Authorization ===

func (s *calendarService) AuthorizeWorkout(ctx context.Context, viewer Viewer, w *domain.Workout) error {
	switch viewer.Role {
	case domain.RoleAthlete:
		if w.UserID != viewer.ID {
			return ErrAccessDenied
		}
		return nil
	case domain.RoleCoach:
		return s.authorizeCoachProgram(ctx, viewer.ID, w.ProgramID)
	}
	return ErrAccessDenied
}

func (s *calendarService) AuthorizeScope(ctx context.Context, viewer Viewer, programID, userID *int64) error {
	if programID != nil {
		if viewer.Role == domain.RoleCoach {
			return s.authorizeCoachProgram(ctx, viewer.ID, *programID)
		}
		program, err := s.programRepo.GetByID(ctx, *programID)
		if err != nil {
			return mapNotFound(err, ErrProgramNotFound)
		}
		if program.AthleteID != viewer.ID {
			return ErrAccessDenied
		}
		return nil
	}

	if userID != nil && *userID != viewer.ID {
		if viewer.Role != domain.RoleCoach {
			return ErrAccessDenied
		}
		athlete, err := s.userRepo.GetByID(ctx, *userID)
		if err != nil {
			return mapNotFound(err, ErrAthleteNotFound)
		}
		if !athlete.IsAthlete() || !athlete.IsCoachedBy(viewer.ID) {
			return ErrAccessDenied
		}
	}
	return nil
}

func (s *calendarService) authorizeCoachProgram(ctx context.Context, coachID, programID int64) error {
	program, err := s.programRepo.GetByID(ctx, programID)
	if err != nil {
		return mapNotFound(err, ErrProgramNotFound)
	}
	if program.CoachID != coachID {
		return ErrAccessDenied
	}
	return nil
}

func mapNotFound(err, notFound error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return err
}
