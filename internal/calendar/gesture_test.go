package calendar_test

import (
	"alcyxob/fitness-calendar/internal/calendar"
	"alcyxob/fitness-calendar/internal/calendar/calendartest"
	"alcyxob/fitness-calendar/internal/domain"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var grid = calendar.Bounds{Left: 100, Right: 800}

type gestureFixture struct {
	clock *calendartest.Clock
	g     *calendar.Gesture

	mu    sync.Mutex
	pages []calendar.Direction
}

func newGestureFixture(t *testing.T) *gestureFixture {
	t.Helper()
	f := &gestureFixture{clock: calendartest.NewClock(time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC))}
	f.g = calendar.NewGesture(calendar.DefaultGestureConfig(), f.clock, func(d calendar.Direction) {
		f.mu.Lock()
		f.pages = append(f.pages, d)
		f.mu.Unlock()
	})
	return f
}

func (f *gestureFixture) pageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pages)
}

func day(d int) *calendar.Day {
	v := calendar.NewDay(2025, time.June, d)
	return &v
}

func workout42() domain.Workout {
	s := "2025-06-10"
	return domain.Workout{ID: 42, ProgramID: 7, UserID: 3, ScheduledDate: &s}
}

func TestGestureStates(t *testing.T) {
	f := newGestureFixture(t)
	assert.Equal(t, calendar.Idle, f.g.State())
	assert.Equal(t, calendar.Idle, f.g.Over(calendar.Pointer{X: 400, Grid: grid, Cell: day(12)}))

	require.True(t, f.g.Start(workout42()))
	assert.False(t, f.g.Start(workout42()), "one session at a time")
	assert.Equal(t, calendar.Dragging, f.g.State())

	assert.Equal(t, calendar.HoveringCell, f.g.Over(calendar.Pointer{X: 400, Grid: grid, Cell: day(12)}))
	s, ok := f.g.Session()
	require.True(t, ok)
	assert.Equal(t, *day(12), *s.DragOverDate)

	assert.Equal(t, calendar.HoveringEdge, f.g.Over(calendar.Pointer{X: 780, Grid: grid, Cell: day(14)}))
	s, _ = f.g.Session()
	assert.Equal(t, calendar.Next, s.NavigationDirection)
	assert.False(t, s.EdgeHoldStartedAt.IsZero())

	f.g.Leave()
	assert.Equal(t, calendar.Dragging, f.g.State())

	f.g.End()
	assert.Equal(t, calendar.Idle, f.g.State())
	assert.Zero(t, f.clock.Pending())
}

func TestGestureEdgeBand(t *testing.T) {
	f := newGestureFixture(t)
	require.True(t, f.g.Start(workout42()))

	tests := []struct {
		x    float64
		want calendar.GestureState
	}{
		{102, calendar.Dragging},     // inside the buffer
		{104, calendar.Dragging},     // buffer edge is exclusive
		{105, calendar.HoveringEdge}, // left band
		{169, calendar.HoveringEdge},
		{170, calendar.Dragging}, // threshold is exclusive
		{450, calendar.Dragging},
		{731, calendar.HoveringEdge}, // right band
		{798, calendar.Dragging},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.g.Over(calendar.Pointer{X: tt.x, Grid: grid}), "x=%v", tt.x)
	}
}

func TestEdgeLeftBeforeDelayNeverPages(t *testing.T) {
	f := newGestureFixture(t)
	require.True(t, f.g.Start(workout42()))

	f.g.Over(calendar.Pointer{X: 780, Grid: grid})
	f.clock.Advance(1000 * time.Millisecond)
	f.g.Over(calendar.Pointer{X: 400, Grid: grid, Cell: day(20)})
	f.clock.Advance(10 * time.Second)

	assert.Zero(t, f.pageCount())
	assert.Zero(t, f.clock.Pending())
}

func TestEdgeHoldPagesOnceThenRepeats(t *testing.T) {
	f := newGestureFixture(t)
	require.True(t, f.g.Start(workout42()))

	f.g.Over(calendar.Pointer{X: 780, Grid: grid})
	f.clock.Advance(1099 * time.Millisecond)
	assert.Zero(t, f.pageCount())

	f.clock.Advance(time.Millisecond)
	assert.Equal(t, 1, f.pageCount(), "first page at the initial delay")

	// Still hovering: repeated samples in the same band do not re-arm.
	f.g.Over(calendar.Pointer{X: 781, Grid: grid})
	f.clock.Advance(1299 * time.Millisecond)
	assert.Equal(t, 1, f.pageCount())
	f.clock.Advance(time.Millisecond)
	assert.Equal(t, 2, f.pageCount(), "second page at the repeat interval")

	f.clock.Advance(2600 * time.Millisecond)
	assert.Equal(t, 4, f.pageCount())
	for _, d := range f.pages {
		assert.Equal(t, calendar.Next, d)
	}

	f.g.Leave()
	f.clock.Advance(10 * time.Second)
	assert.Equal(t, 4, f.pageCount())
}

func TestEdgeDirectionSwitchRestartsDelay(t *testing.T) {
	f := newGestureFixture(t)
	require.True(t, f.g.Start(workout42()))

	f.g.Over(calendar.Pointer{X: 780, Grid: grid})
	f.clock.Advance(800 * time.Millisecond)
	f.g.Over(calendar.Pointer{X: 120, Grid: grid})
	f.clock.Advance(800 * time.Millisecond)
	assert.Zero(t, f.pageCount(), "switching direction cancels the pending page")

	f.clock.Advance(300 * time.Millisecond)
	require.Equal(t, 1, f.pageCount())
	assert.Equal(t, calendar.Previous, f.pages[0])
	assert.Equal(t, 1, f.clock.Pending())
}

func TestDropCancelsTimers(t *testing.T) {
	f := newGestureFixture(t)
	require.True(t, f.g.Start(workout42()))
	f.g.Over(calendar.Pointer{X: 780, Grid: grid, Cell: day(30)})

	res := f.g.Drop(nil)
	assert.True(t, res.Commit)
	assert.Equal(t, *day(30), res.Day)
	assert.Equal(t, int64(42), res.Workout.ID)

	assert.Zero(t, f.clock.Pending())
	f.clock.Advance(10 * time.Second)
	assert.Zero(t, f.pageCount())
	assert.Equal(t, calendar.Idle, f.g.State())
}

func TestDropOnCurrentDayIsNoop(t *testing.T) {
	f := newGestureFixture(t)
	require.True(t, f.g.Start(workout42()))
	f.g.Over(calendar.Pointer{X: 400, Grid: grid, Cell: day(10)})

	res := f.g.Drop(nil)
	assert.False(t, res.Commit)
}

func TestDropPrefersExplicitCell(t *testing.T) {
	f := newGestureFixture(t)
	require.True(t, f.g.Start(workout42()))
	f.g.Over(calendar.Pointer{X: 400, Grid: grid, Cell: day(12)})

	res := f.g.Drop(day(15))
	require.True(t, res.Commit)
	assert.Equal(t, *day(15), res.Day)
}

func TestDropWithoutTarget(t *testing.T) {
	f := newGestureFixture(t)
	assert.False(t, f.g.Drop(day(15)).Commit, "no session")

	require.True(t, f.g.Start(workout42()))
	assert.False(t, f.g.Drop(nil).Commit, "never hovered a cell")
}

func TestNavigateMayDriveTheGesture(t *testing.T) {
	clock := calendartest.NewClock(time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC))
	var g *calendar.Gesture
	var seen []calendar.GestureState
	g = calendar.NewGesture(calendar.DefaultGestureConfig(), clock, func(calendar.Direction) {
		seen = append(seen, g.State())
		// Landing on a cell in the new month stops paging.
		g.Over(calendar.Pointer{X: 400, Grid: grid, Cell: day(20)})
	})
	require.True(t, g.Start(workout42()))

	g.Over(calendar.Pointer{X: 780, Grid: grid})
	clock.Advance(1100 * time.Millisecond)
	assert.Equal(t, []calendar.GestureState{calendar.HoveringEdge}, seen)
	assert.Equal(t, calendar.HoveringCell, g.State())

	clock.Advance(5 * time.Second)
	assert.Len(t, seen, 1, "the re-armed page was cancelled from inside navigate")
	assert.Zero(t, clock.Pending())
}
