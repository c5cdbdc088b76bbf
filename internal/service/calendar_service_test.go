package service

import (
	"alcyxob/fitness-calendar/internal/calendar"
	"alcyxob/fitness-calendar/internal/domain"
	"alcyxob/fitness-calendar/internal/repository"
	"alcyxob/fitness-calendar/internal/repository/memory"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	origin string
	msg    domain.ChangeMessage
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(_ context.Context, origin string, msg domain.ChangeMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{origin: origin, msg: msg})
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func strPtr(s string) *string { return &s }
func idPtr(id int64) *int64   { return &id }

const (
	coachID   = int64(1)
	athleteID = int64(3)
	programID = int64(7)
)

func setup(t *testing.T) (*memory.Store, CalendarService, *recordingPublisher) {
	t.Helper()
	store := memory.NewStore()
	store.PutUser(domain.User{ID: coachID, Role: domain.RoleCoach, Name: "Coach"})
	store.PutUser(domain.User{ID: athleteID, Role: domain.RoleAthlete, Name: "Athlete", CoachID: idPtr(coachID)})
	store.PutUser(domain.User{ID: 4, Role: domain.RoleAthlete, Name: "Someone else's"})
	store.PutProgram(domain.Program{ID: programID, CoachID: coachID, AthleteID: athleteID})
	store.PutProgram(domain.Program{ID: 8, CoachID: 2, AthleteID: 4})
	store.PutWorkout(domain.Workout{
		ID: 42, ProgramID: programID, UserID: athleteID, Name: "Tempo run",
		ScheduledDate: strPtr("2025-06-10"),
	})

	pub := &recordingPublisher{}
	svc := NewCalendarService(store.Workouts(), store.Exercises(), store.Programs(), store.Users(), pub)
	return store, svc, pub
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func TestMoveWorkoutWritesAndPublishes(t *testing.T) {
	store, svc, pub := setup(t)
	ctx := context.Background()
	w, _ := store.Workout(42)

	res, err := svc.MoveWorkout(ctx, MoveRequest{
		Workout: w, Day: calendar.NewDay(2025, time.June, 15), Location: berlin(t), Origin: "tab-a",
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15T00:00:00+02:00", *res.Workout.ScheduledDate)

	stored, _ := store.Workout(42)
	assert.Equal(t, "2025-06-15T00:00:00+02:00", *stored.ScheduledDate)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tab-a", msgs[0].origin)
	assert.Equal(t, domain.ChangeUpdated, msgs[0].msg.Type)
	assert.Equal(t, int64(42), msgs[0].msg.WorkoutID)
	assert.Equal(t, programID, *msgs[0].msg.ProgramID)
	assert.Equal(t, athleteID, *msgs[0].msg.UserID)
	assert.Equal(t, "2025-06-15T00:00:00+02:00", *msgs[0].msg.Changes.ScheduledDate.Value)
	assert.Equal(t, res.Message, msgs[0].msg)
}

func TestMoveWorkoutSameDayIsNoop(t *testing.T) {
	store, svc, pub := setup(t)
	w, _ := store.Workout(42)

	_, err := svc.MoveWorkout(context.Background(), MoveRequest{Workout: w, Day: calendar.NewDay(2025, time.June, 10)})
	assert.ErrorIs(t, err, ErrUnchanged)
	assert.Zero(t, store.Calls(memory.OpWorkoutSchedule))
	assert.Empty(t, pub.all())
}

func TestMoveWorkoutFailures(t *testing.T) {
	store, svc, pub := setup(t)
	ctx := context.Background()
	w, _ := store.Workout(42)
	june15 := calendar.NewDay(2025, time.June, 15)

	_, err := svc.MoveWorkout(ctx, MoveRequest{Workout: w})
	assert.Error(t, err, "zero day")

	store.Fail(memory.OpWorkoutSchedule, errors.New("disk full"))
	_, err = svc.MoveWorkout(ctx, MoveRequest{Workout: w, Day: june15})
	assert.ErrorIs(t, err, ErrScheduleFailed)
	stored, _ := store.Workout(42)
	assert.Equal(t, "2025-06-10", *stored.ScheduledDate)
	store.Fail(memory.OpWorkoutSchedule, nil)

	ghost := domain.Workout{ID: 999, ProgramID: programID}
	_, err = svc.MoveWorkout(ctx, MoveRequest{Workout: ghost, Day: june15})
	assert.ErrorIs(t, err, ErrWorkoutNotFound)

	assert.Empty(t, pub.all())
}

func TestDuplicateWorkout(t *testing.T) {
	store, svc, pub := setup(t)
	ctx := context.Background()
	store.PutWorkout(domain.Workout{
		ID: 50, ProgramID: programID, UserID: athleteID, Name: "Legs",
		WorkoutType: domain.WorkoutTypeStrength, Completed: true, ScheduledDate: strPtr("2025-06-12"),
	})
	store.PutExercise(domain.WorkoutExercise{ID: 1, WorkoutID: 50, ExerciseName: "Squat", Sequence: 1, Completed: true})
	store.PutExercise(domain.WorkoutExercise{ID: 2, WorkoutID: 50, ExerciseName: "Lunge", Sequence: 2})

	target := calendar.NewDay(2025, time.June, 20)
	res, err := svc.DuplicateWorkout(ctx, DuplicateRequest{WorkoutID: 50, Target: &target, Location: time.UTC, Origin: "tab-a"})
	require.NoError(t, err)
	require.NoError(t, res.ChildErr)

	dup := res.Workout
	assert.NotZero(t, dup.ID)
	assert.NotEqual(t, int64(50), dup.ID)
	assert.Equal(t, "Legs (Copy)", dup.Name)
	assert.False(t, dup.Completed)
	assert.Equal(t, "2025-06-20T00:00:00Z", *dup.ScheduledDate)
	assert.Equal(t, programID, dup.ProgramID)

	children := store.ExercisesOf(dup.ID)
	require.Len(t, children, 2)
	assert.Equal(t, "Squat", children[0].ExerciseName)
	assert.False(t, children[0].Completed)
	assert.Len(t, store.ExercisesOf(50), 2, "original untouched")

	original, _ := store.Workout(50)
	assert.True(t, original.Completed)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.ChangeCreated, msgs[0].msg.Type)
	require.NotNil(t, msgs[0].msg.Record)
	assert.Equal(t, dup.ID, msgs[0].msg.Record.ID)
}

func TestDuplicateWithoutTargetIsUnscheduled(t *testing.T) {
	store, svc, _ := setup(t)
	res, err := svc.DuplicateWorkout(context.Background(), DuplicateRequest{WorkoutID: 42})
	require.NoError(t, err)
	assert.Nil(t, res.Workout.ScheduledDate)
	assert.Equal(t, "Tempo run (Copy)", res.Workout.Name)
	assert.Empty(t, res.Exercises)
	assert.Zero(t, store.Calls(memory.OpExerciseGet), "only strength workouts carry exercises")
}

func TestDuplicatePartialChildFailure(t *testing.T) {
	store, svc, pub := setup(t)
	store.PutWorkout(domain.Workout{ID: 50, ProgramID: programID, UserID: athleteID, Name: "Legs", WorkoutType: domain.WorkoutTypeStrength})
	for i := int64(1); i <= 3; i++ {
		store.PutExercise(domain.WorkoutExercise{ID: i, WorkoutID: 50, ExerciseName: "Move", Sequence: int(i)})
	}
	store.Fail(memory.OpExerciseInsert, errors.New("write conflict"))
	store.LimitExerciseInserts(1)

	res, err := svc.DuplicateWorkout(context.Background(), DuplicateRequest{WorkoutID: 50})
	require.NoError(t, err, "the workout copy itself succeeded")
	assert.ErrorIs(t, res.ChildErr, ErrExerciseCopyFail)
	assert.Contains(t, res.ChildErr.Error(), "copied 1 of 3")
	assert.Len(t, res.Exercises, 1)

	_, ok := store.Workout(res.Workout.ID)
	assert.True(t, ok)
	assert.Len(t, pub.all(), 1)
}

func TestDuplicateFailures(t *testing.T) {
	store, svc, pub := setup(t)
	ctx := context.Background()

	_, err := svc.DuplicateWorkout(ctx, DuplicateRequest{WorkoutID: 999})
	assert.ErrorIs(t, err, ErrWorkoutNotFound)

	store.Fail(memory.OpWorkoutInsert, errors.New("boom"))
	_, err = svc.DuplicateWorkout(ctx, DuplicateRequest{WorkoutID: 42})
	assert.ErrorIs(t, err, ErrDuplicateFailed)
	assert.Empty(t, pub.all())
}

func TestListWorkoutsWithoutPublisher(t *testing.T) {
	store := memory.NewStore()
	store.PutWorkout(domain.Workout{ID: 1, ProgramID: programID, UserID: athleteID, ScheduledDate: strPtr("2025-06-10")})
	svc := NewCalendarService(store.Workouts(), store.Exercises(), store.Programs(), store.Users(), nil)

	got, err := svc.ListWorkouts(context.Background(), repository.WorkoutFilter{UserID: idPtr(athleteID)})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	w, _ := store.Workout(1)
	_, err = svc.MoveWorkout(context.Background(), MoveRequest{Workout: w, Day: calendar.NewDay(2025, time.June, 11), Location: time.UTC})
	assert.NoError(t, err)
}

func TestAuthorizeWorkout(t *testing.T) {
	store, svc, _ := setup(t)
	ctx := context.Background()
	w, _ := store.Workout(42)
	foreign := domain.Workout{ID: 60, ProgramID: 8, UserID: 4}

	assert.NoError(t, svc.AuthorizeWorkout(ctx, Viewer{ID: athleteID, Role: domain.RoleAthlete}, &w))
	assert.NoError(t, svc.AuthorizeWorkout(ctx, Viewer{ID: coachID, Role: domain.RoleCoach}, &w))
	assert.ErrorIs(t, svc.AuthorizeWorkout(ctx, Viewer{ID: 4, Role: domain.RoleAthlete}, &w), ErrAccessDenied)
	assert.ErrorIs(t, svc.AuthorizeWorkout(ctx, Viewer{ID: coachID, Role: domain.RoleCoach}, &foreign), ErrAccessDenied)
	assert.ErrorIs(t, svc.AuthorizeWorkout(ctx, Viewer{ID: coachID, Role: "admin"}, &w), ErrAccessDenied)
}

func TestAuthorizeScope(t *testing.T) {
	_, svc, _ := setup(t)
	ctx := context.Background()
	coach := Viewer{ID: coachID, Role: domain.RoleCoach}
	athlete := Viewer{ID: athleteID, Role: domain.RoleAthlete}

	tests := []struct {
		name      string
		viewer    Viewer
		programID *int64
		userID    *int64
		want      error
	}{
		{"own calendar", athlete, nil, nil, nil},
		{"athlete own program", athlete, idPtr(programID), nil, nil},
		{"athlete foreign program", athlete, idPtr(8), nil, ErrAccessDenied},
		{"athlete other user", athlete, nil, idPtr(4), ErrAccessDenied},
		{"athlete self by id", athlete, nil, idPtr(athleteID), nil},
		{"coach own program", coach, idPtr(programID), nil, nil},
		{"coach foreign program", coach, idPtr(8), nil, ErrAccessDenied},
		{"coach missing program", coach, idPtr(99), nil, ErrProgramNotFound},
		{"coach own athlete", coach, nil, idPtr(athleteID), nil},
		{"coach foreign athlete", coach, nil, idPtr(4), ErrAccessDenied},
		{"coach missing athlete", coach, nil, idPtr(99), ErrAthleteNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.AuthorizeScope(ctx, tt.viewer, tt.programID, tt.userID)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
