// Package memory provides a mutex-guarded in-process implementation of the
// repository interfaces. It backs local development ("memory://" database
// URI) and tests, and supports fault injection per operation.
package memory

import (
	"alcyxob/fitness-calendar/internal/domain"
	"alcyxob/fitness-calendar/internal/repository"
	"context"
	"sort"
	"sync"
	"time"
)

// Op names a store operation for fault injection and call counting.
type Op string

const (
	OpWorkoutGet      Op = "workouts.get"
	OpWorkoutFind     Op = "workouts.find"
	OpWorkoutInsert   Op = "workouts.insert"
	OpWorkoutSchedule Op = "workouts.schedule"
	OpExerciseGet     Op = "exercises.get"
	OpExerciseInsert  Op = "exercises.insert"
)

type watcher struct {
	filter   repository.WorkoutFilter
	onChange func()
}

// Store holds workouts, their exercise rows, programs and users.
type Store struct {
	mu        sync.Mutex
	workouts  map[int64]domain.Workout
	exercises map[int64]domain.WorkoutExercise
	programs  map[int64]domain.Program
	users     map[int64]domain.User
	watchers  map[*watcher]struct{}

	nextWorkoutID  int64
	nextExerciseID int64

	faults map[Op]error
	calls  map[Op]int
	// exerciseInsertLimit caps how many rows CreateMany stores before failing
	// with the OpExerciseInsert fault; -1 means no cap.
	exerciseInsertLimit int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		workouts:            make(map[int64]domain.Workout),
		exercises:           make(map[int64]domain.WorkoutExercise),
		programs:            make(map[int64]domain.Program),
		users:               make(map[int64]domain.User),
		watchers:            make(map[*watcher]struct{}),
		faults:              make(map[Op]error),
		calls:               make(map[Op]int),
		exerciseInsertLimit: -1,
	}
}

// Workouts returns the store as a repository.WorkoutRepository.
func (s *Store) Workouts() repository.WorkoutRepository { return workoutRepo{s} }

// Exercises returns the store as a repository.WorkoutExerciseRepository.
func (s *Store) Exercises() repository.WorkoutExerciseRepository { return exerciseRepo{s} }

// Programs returns the store as a repository.ProgramRepository.
func (s *Store) Programs() repository.ProgramRepository { return programRepo{s} }

// Users returns the store as a repository.UserRepository.
func (s *Store) Users() repository.UserRepository { return userRepo{s} }

// Feed returns the store as a repository.ChangeFeed.
func (s *Store) Feed() repository.ChangeFeed { return feed{s} }

// --- Seeding and test hooks ---

// PutWorkout stores w as-is, without notifying watchers.
func (s *Store) PutWorkout(w domain.Workout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workouts[w.ID] = w.Clone()
	if w.ID > s.nextWorkoutID {
		s.nextWorkoutID = w.ID
	}
}

// PutExercise stores a child exercise row.
func (s *Store) PutExercise(e domain.WorkoutExercise) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exercises[e.ID] = e
	if e.ID > s.nextExerciseID {
		s.nextExerciseID = e.ID
	}
}

func (s *Store) PutProgram(p domain.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs[p.ID] = p
}

func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Fail makes every following call of op return err until cleared with nil.
func (s *Store) Fail(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// LimitExerciseInserts lets CreateMany store n rows, then fail with the
// OpExerciseInsert fault.
func (s *Store) LimitExerciseInserts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exerciseInsertLimit = n
}

// Calls reports how many times op was invoked.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Workout returns a copy of the stored row.
func (s *Store) Workout(id int64) (domain.Workout, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workouts[id]
	return w.Clone(), ok
}

// ExercisesOf returns the stored child rows of a workout, ordered by sequence.
func (s *Store) ExercisesOf(workoutID int64) []domain.WorkoutExercise {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exercisesOfLocked(workoutID)
}

// --- internals ---

// begin counts the call and returns the injected fault, if any. Caller holds mu.
func (s *Store) begin(op Op) error {
	s.calls[op]++
	return s.faults[op]
}

func (s *Store) exercisesOfLocked(workoutID int64) []domain.WorkoutExercise {
	out := []domain.WorkoutExercise{}
	for _, e := range s.exercises {
		if e.WorkoutID == workoutID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// notify fires matching watchers asynchronously, like a remote change stream.
func (s *Store) notify(w domain.Workout) {
	s.mu.Lock()
	var fire []func()
	for wt := range s.watchers {
		if wt.filter.Matches(&w) {
			fire = append(fire, wt.onChange)
		}
	}
	s.mu.Unlock()
	for _, f := range fire {
		go f()
	}
}

type workoutRepo struct{ s *Store }

func (r workoutRepo) Create(_ context.Context, w *domain.Workout) (int64, error) {
	s := r.s
	s.mu.Lock()
	if err := s.begin(OpWorkoutInsert); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.nextWorkoutID++
	w.ID = s.nextWorkoutID
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	s.workouts[w.ID] = w.Clone()
	stored := w.Clone()
	s.mu.Unlock()

	s.notify(stored)
	return w.ID, nil
}

func (r workoutRepo) GetByID(_ context.Context, id int64) (*domain.Workout, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpWorkoutGet); err != nil {
		return nil, err
	}
	w, ok := s.workouts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := w.Clone()
	return &c, nil
}

func (r workoutRepo) Find(_ context.Context, filter repository.WorkoutFilter) ([]domain.Workout, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpWorkoutFind); err != nil {
		return nil, err
	}
	out := []domain.Workout{}
	for _, w := range s.workouts {
		if filter.Matches(&w) {
			out = append(out, w.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ScheduledDate, out[j].ScheduledDate
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && *a != *b:
			return *a < *b
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r workoutRepo) SetScheduledDate(_ context.Context, id int64, scheduled *string) (*domain.Workout, error) {
	s := r.s
	s.mu.Lock()
	if err := s.begin(OpWorkoutSchedule); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	w, ok := s.workouts[id]
	if !ok {
		s.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	domain.ScheduleChange(scheduled).ApplyTo(&w)
	w.UpdatedAt = time.Now().UTC()
	s.workouts[id] = w
	stored := w.Clone()
	s.mu.Unlock()

	s.notify(stored)
	out := stored.Clone()
	return &out, nil
}

type exerciseRepo struct{ s *Store }

func (r exerciseRepo) GetByWorkoutID(_ context.Context, workoutID int64) ([]domain.WorkoutExercise, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpExerciseGet); err != nil {
		return nil, err
	}
	return s.exercisesOfLocked(workoutID), nil
}

func (r exerciseRepo) CreateMany(_ context.Context, exercises []domain.WorkoutExercise) ([]domain.WorkoutExercise, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpExerciseInsert]++
	fault := s.faults[OpExerciseInsert]
	if fault != nil && s.exerciseInsertLimit < 0 {
		return nil, fault
	}

	now := time.Now().UTC()
	out := make([]domain.WorkoutExercise, 0, len(exercises))
	for i, e := range exercises {
		if fault != nil && i >= s.exerciseInsertLimit {
			return out, fault
		}
		s.nextExerciseID++
		e.ID = s.nextExerciseID
		e.CreatedAt = now
		s.exercises[e.ID] = e
		out = append(out, e)
	}
	return out, nil
}

type programRepo struct{ s *Store }

func (r programRepo) GetByID(_ context.Context, id int64) (*domain.Program, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.programs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

type userRepo struct{ s *Store }

func (r userRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

type feed struct{ s *Store }

func (f feed) Watch(ctx context.Context, filter repository.WorkoutFilter, onChange func()) error {
	if filter.IsEmpty() {
		return nil
	}
	w := &watcher{filter: filter, onChange: onChange}
	f.s.mu.Lock()
	f.s.watchers[w] = struct{}{}
	f.s.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.s.mu.Lock()
		delete(f.s.watchers, w)
		f.s.mu.Unlock()
	}()
	return nil
}
