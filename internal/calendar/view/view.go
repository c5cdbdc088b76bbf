// Package view is the calendar component a front end mounts: it owns the
// visible workouts, the drag gesture and the sync subscription of one
// calendar instance (one "tab").
package view

import (
	"alcyxob/fitness-calendar/internal/broadcast"
	"alcyxob/fitness-calendar/internal/calendar"
	"alcyxob/fitness-calendar/internal/domain"
	"alcyxob/fitness-calendar/internal/repository"
	"alcyxob/fitness-calendar/internal/service"
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler performs the authoritative writes and reads.
type Scheduler interface {
	ListWorkouts(ctx context.Context, filter repository.WorkoutFilter) ([]domain.Workout, error)
	MoveWorkout(ctx context.Context, req service.MoveRequest) (*service.MoveResult, error)
	DuplicateWorkout(ctx context.Context, req service.DuplicateRequest) (*service.DuplicateResult, error)
}

// Syncer attaches a listener to every propagation path. *broadcast.Engine
// satisfies it.
type Syncer interface {
	Subscribe(ctx context.Context, l broadcast.Listener) error
}

// Drainer empties the pending-change queue.
type Drainer interface {
	Drain(ctx context.Context) ([]broadcast.Envelope, error)
}

// Props parameterize a calendar the way its host page does.
type Props struct {
	Workouts        []domain.Workout
	OnWorkoutUpdate func([]domain.Workout)
	Role            domain.Role
	ViewerID        int64
	ProgramID       *int64
	UserID          *int64
	ReadOnly        bool
	OnEditWorkout   func(domain.Workout)
	OnCreateWorkout func(calendar.Day)
	OnMonthChange   func(calendar.Day)
	Location        *time.Location
	// FetchedAt is when Workouts were read from storage. Pending changes
	// sent before it are already part of Workouts and are skipped on Mount.
	// When zero, the view refetches after replaying the pending queue.
	FetchedAt time.Time
}

// Deps are the collaborators of a view. Scheduler is required; the rest fall
// back to harmless defaults.
type Deps struct {
	Scheduler Scheduler
	Sync      Syncer
	Queue     Drainer
	Clock     calendar.Clock
	Notifier  calendar.Notifier
	Gesture   calendar.GestureConfig
	WeekStart time.Weekday
}

// View is one mounted calendar. All methods are safe for concurrent use.
// Callbacks from Props are invoked without the view lock held, one at a
// time, in the order the state changed; they may read the view, including
// its gesture state, but must not call Move, Duplicate, Mount or Unmount.
type View struct {
	id      string
	props   Props
	deps    Deps
	loc     *time.Location
	gesture *calendar.Gesture

	// emitMu orders state changes with their OnWorkoutUpdate callback.
	emitMu sync.Mutex

	mu       sync.Mutex
	workouts []domain.Workout
	index    calendar.Index
	scope    calendar.Scope
	month    calendar.Day
	mounted  bool
	ctx      context.Context
	cancel   context.CancelFunc

	subMu     sync.Mutex
	subCancel context.CancelFunc
}

// New builds an unmounted view over props.Workouts.
func New(props Props, deps Deps) *View {
	if deps.Clock == nil {
		deps.Clock = calendar.SystemClock()
	}
	if deps.Notifier == nil {
		deps.Notifier = calendar.LogNotifier{}
	}
	if deps.Gesture == (calendar.GestureConfig{}) {
		deps.Gesture = calendar.DefaultGestureConfig()
	}
	loc := props.Location
	if loc == nil {
		loc = time.Local
	}

	v := &View{
		id:    uuid.NewString(),
		props: props,
		deps:  deps,
		loc:   loc,
		month: calendar.Today(deps.Clock, loc).FirstOfMonth(),
	}
	v.setLocked(domain.CloneWorkouts(props.Workouts))
	v.scope = v.resolveScopeLocked()
	v.gesture = calendar.NewGesture(deps.Gesture, deps.Clock, v.page)
	return v
}

// ID is the origin stamped on everything this view publishes.
func (v *View) ID() string { return v.id }

// Mount replays the pending queue, then subscribes to changes in scope
// until Unmount or ctx is cancelled. Storage stays authoritative: queued
// changes older than Props.FetchedAt are dropped, and without a FetchedAt
// the replayed state is refetched once.
func (v *View) Mount(ctx context.Context) error {
	v.mu.Lock()
	if v.mounted {
		v.mu.Unlock()
		return nil
	}
	v.mounted = true
	v.ctx, v.cancel = context.WithCancel(ctx)
	v.mu.Unlock()

	replayed := v.replayPending(ctx)
	v.resubscribe()
	if replayed > 0 && v.props.FetchedAt.IsZero() {
		v.refetch()
	}
	return nil
}

// replayPending applies the queued changes newer than the initial fetch and
// returns how many it applied.
func (v *View) replayPending(ctx context.Context) int {
	if v.deps.Queue == nil {
		return 0
	}
	envs, err := v.deps.Queue.Drain(ctx)
	if err != nil {
		log.Printf("WARN: calendar %s could not drain pending changes: %v", v.id, err)
	}
	n := 0
	for _, env := range envs {
		if env.Origin == v.id || env.Message.Validate() != nil {
			continue
		}
		if !v.props.FetchedAt.IsZero() && env.SentAt.Before(v.props.FetchedAt) {
			continue
		}
		v.apply(env.Message)
		n++
	}
	return n
}

// Unmount stops the subscription and abandons any drag in flight.
func (v *View) Unmount() {
	v.gesture.End()

	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return
	}
	v.mounted = false
	cancel := v.cancel
	v.mu.Unlock()

	v.subMu.Lock()
	if v.subCancel != nil {
		v.subCancel()
		v.subCancel = nil
	}
	v.subMu.Unlock()
	cancel()
}

// Workouts returns a copy of the current state.
func (v *View) Workouts() []domain.Workout {
	v.mu.Lock()
	defer v.mu.Unlock()
	return domain.CloneWorkouts(v.workouts)
}

func (v *View) Index() calendar.Index {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.index
}

func (v *View) Scope() calendar.Scope {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scope
}

// Month is the first day of the displayed month.
func (v *View) Month() calendar.Day {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.month
}

// Cells lays out the displayed month.
func (v *View) Cells() [][]calendar.Cell {
	v.mu.Lock()
	defer v.mu.Unlock()
	return calendar.MonthGrid(v.month, v.deps.WeekStart, v.index)
}

// SetWorkouts replaces the workout list, as a host re-render with new props
// would.
func (v *View) SetWorkouts(workouts []domain.Workout) {
	v.commit(func(cur []domain.Workout) ([]domain.Workout, bool) {
		return domain.CloneWorkouts(workouts), !reflect.DeepEqual(cur, workouts)
	})
}

// Move reschedules a visible workout onto day. Moving a workout onto the day
// it already sits on succeeds without touching storage.
func (v *View) Move(ctx context.Context, workoutID int64, day calendar.Day) error {
	if v.props.ReadOnly {
		return service.ErrReadOnly
	}
	w, ok := v.find(workoutID)
	if !ok {
		return service.ErrWorkoutNotFound
	}
	if current, ok := calendar.ScheduledDay(w.ScheduledDate); ok && current == day {
		return nil
	}

	res, err := v.deps.Scheduler.MoveWorkout(ctx, service.MoveRequest{
		Workout:  w,
		Day:      day,
		Location: v.loc,
		Origin:   v.id,
	})
	if errors.Is(err, service.ErrUnchanged) {
		return nil
	}
	if err != nil {
		v.deps.Notifier.Notify(calendar.LevelError, fmt.Sprintf("Failed to reschedule %q: %v", w.Name, err))
		return err
	}

	v.commit(func(cur []domain.Workout) ([]domain.Workout, bool) {
		return domain.ApplyChange(cur, res.Message)
	})
	v.deps.Notifier.Notify(calendar.LevelInfo, fmt.Sprintf("%q moved to %s", w.Name, day))
	return nil
}

// Duplicate copies a workout, unscheduled when target is nil.
func (v *View) Duplicate(ctx context.Context, workoutID int64, target *calendar.Day) (*domain.Workout, error) {
	if v.props.ReadOnly {
		return nil, service.ErrReadOnly
	}
	res, err := v.deps.Scheduler.DuplicateWorkout(ctx, service.DuplicateRequest{
		WorkoutID: workoutID,
		Target:    target,
		Location:  v.loc,
		Origin:    v.id,
	})
	if err != nil {
		v.deps.Notifier.Notify(calendar.LevelError, fmt.Sprintf("Failed to duplicate workout: %v", err))
		return nil, err
	}

	v.commit(func(cur []domain.Workout) ([]domain.Workout, bool) {
		return domain.ApplyChange(cur, res.Message)
	})
	if res.ChildErr != nil {
		v.deps.Notifier.Notify(calendar.LevelWarning, res.ChildErr.Error())
	} else {
		v.deps.Notifier.Notify(calendar.LevelInfo, fmt.Sprintf("%q created", res.Workout.Name))
	}
	dup := res.Workout
	return &dup, nil
}

// === Drag and drop ===

// DragStart grabs a visible workout. Read-only calendars never drag.
func (v *View) DragStart(workoutID int64) bool {
	if v.props.ReadOnly {
		return false
	}
	w, ok := v.find(workoutID)
	if !ok {
		return false
	}
	return v.gesture.Start(w)
}

func (v *View) DragOver(p calendar.Pointer) calendar.GestureState {
	return v.gesture.Over(p)
}

func (v *View) DragLeave() {
	v.gesture.Leave()
}

// Drop ends the drag on cell, or on the last hovered cell when cell is nil,
// and moves the workout there. It reports whether a write happened.
func (v *View) Drop(ctx context.Context, cell *calendar.Day) (bool, error) {
	res := v.gesture.Drop(cell)
	if !res.Commit {
		return false, nil
	}
	if err := v.Move(ctx, res.Workout.ID, res.Day); err != nil {
		return false, err
	}
	return true, nil
}

func (v *View) DragEnd() {
	v.gesture.End()
}

func (v *View) GestureState() calendar.GestureState {
	return v.gesture.State()
}

// === Month navigation ===

func (v *View) NextMonth() { v.shiftMonth(1) }

func (v *View) PrevMonth() { v.shiftMonth(-1) }

// GoToToday shows the current month.
func (v *View) GoToToday() {
	today := calendar.Today(v.deps.Clock, v.loc).FirstOfMonth()
	v.mu.Lock()
	changed := v.month != today
	v.month = today
	v.mu.Unlock()
	if changed && v.props.OnMonthChange != nil {
		v.props.OnMonthChange(today)
	}
}

// page is the gesture's navigate callback.
func (v *View) page(dir calendar.Direction) {
	v.shiftMonth(dir.Months())
}

func (v *View) shiftMonth(n int) {
	if n == 0 {
		return
	}
	v.mu.Lock()
	v.month = v.month.AddMonths(n)
	month := v.month
	v.mu.Unlock()
	if v.props.OnMonthChange != nil {
		v.props.OnMonthChange(month)
	}
}

// === Collaborator dialogs ===

// EditWorkout opens the host's edit form for a visible workout.
func (v *View) EditWorkout(workoutID int64) bool {
	if v.props.ReadOnly || v.props.OnEditWorkout == nil {
		return false
	}
	w, ok := v.find(workoutID)
	if !ok {
		return false
	}
	v.props.OnEditWorkout(w)
	return true
}

// CreateWorkout opens the host's create form preset to day.
func (v *View) CreateWorkout(day calendar.Day) bool {
	if v.props.ReadOnly || v.props.OnCreateWorkout == nil {
		return false
	}
	v.props.OnCreateWorkout(day)
	return true
}

// === Sync ===

// apply merges an inbound message. Out-of-scope, unknown and repeated
// messages leave the state untouched.
func (v *View) apply(msg domain.ChangeMessage) {
	v.commit(func(cur []domain.Workout) ([]domain.Workout, bool) {
		v.mu.Lock()
		scope := v.scope
		v.mu.Unlock()
		if !scope.InScope(msg) {
			return nil, false
		}
		return domain.ApplyChange(cur, msg)
	})
}

// refetch replaces the state with the storage rows of the current scope.
func (v *View) refetch() {
	v.mu.Lock()
	ctx, filter := v.ctx, v.scope.Filter()
	v.mu.Unlock()
	if ctx == nil || ctx.Err() != nil || filter.IsEmpty() {
		return
	}
	rows, err := v.deps.Scheduler.ListWorkouts(ctx, filter)
	if err != nil {
		log.Printf("WARN: calendar %s refetch failed: %v", v.id, err)
		return
	}
	v.commit(func(cur []domain.Workout) ([]domain.Workout, bool) {
		return rows, !reflect.DeepEqual(cur, rows)
	})
}

// commit runs fn against the current state and, when it reports a change,
// installs the result, re-resolves the scope and notifies the host.
func (v *View) commit(fn func(cur []domain.Workout) ([]domain.Workout, bool)) {
	v.emitMu.Lock()
	defer v.emitMu.Unlock()

	v.mu.Lock()
	cur := v.workouts
	v.mu.Unlock()

	next, changed := fn(cur)
	if !changed {
		return
	}

	v.mu.Lock()
	v.setLocked(next)
	scope := v.resolveScopeLocked()
	rescoped := !scope.Equal(v.scope)
	v.scope = scope
	mounted := v.mounted
	snapshot := domain.CloneWorkouts(next)
	v.mu.Unlock()

	if rescoped && mounted {
		v.resubscribe()
	}
	if v.props.OnWorkoutUpdate != nil {
		v.props.OnWorkoutUpdate(snapshot)
	}
}

// resubscribe replaces the live subscription with one for the current scope.
func (v *View) resubscribe() {
	if v.deps.Sync == nil {
		return
	}
	v.subMu.Lock()
	defer v.subMu.Unlock()

	v.mu.Lock()
	parent, scope := v.ctx, v.scope
	v.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}
	if v.subCancel != nil {
		v.subCancel()
	}
	ctx, cancel := context.WithCancel(parent)
	v.subCancel = cancel

	err := v.deps.Sync.Subscribe(ctx, broadcast.Listener{
		Origin:    v.id,
		Channels:  scope.Channels(),
		Filter:    scope.Filter(),
		OnMessage: v.apply,
		OnChange:  v.refetch,
	})
	if err != nil {
		log.Printf("WARN: calendar %s subscribe failed: %v", v.id, err)
	}
}

func (v *View) setLocked(workouts []domain.Workout) {
	v.workouts = workouts
	v.index = calendar.BuildIndex(workouts)
}

func (v *View) resolveScopeLocked() calendar.Scope {
	return calendar.ResolveScope(calendar.ScopeParams{
		Role:      v.props.Role,
		ViewerID:  v.props.ViewerID,
		ProgramID: v.props.ProgramID,
		UserID:    v.props.UserID,
		Visible:   v.workouts,
	})
}

func (v *View) find(id int64) (domain.Workout, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, w := range v.workouts {
		if w.ID == id {
			return w.Clone(), true
		}
	}
	return domain.Workout{}, false
}
