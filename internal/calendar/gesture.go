package calendar

import (
	"alcyxob/fitness-calendar/internal/domain"
	"sync"
	"time"
)

// Direction of edge-triggered month paging.
type Direction int

const (
	NoDirection Direction = iota
	Previous
	Next
)

// Months is the month delta one paging step applies.
func (d Direction) Months() int {
	switch d {
	case Previous:
		return -1
	case Next:
		return 1
	}
	return 0
}

func (d Direction) String() string {
	switch d {
	case Previous:
		return "previous"
	case Next:
		return "next"
	}
	return "none"
}

// GestureState is the observable state of the drag state machine.
type GestureState int

const (
	Idle GestureState = iota
	Dragging
	HoveringCell
	HoveringEdge
)

func (s GestureState) String() string {
	switch s {
	case Dragging:
		return "dragging"
	case HoveringCell:
		return "hovering-cell"
	case HoveringEdge:
		return "hovering-edge"
	}
	return "idle"
}

// GestureConfig tunes the edge band and its paging timers.
type GestureConfig struct {
	// EdgeThreshold is the width in pixels of the band along each grid border.
	EdgeThreshold float64
	// EdgeBuffer is the strip right at the border that does not count as the
	// band, so a pointer resting on the border does not flicker in and out.
	EdgeBuffer float64
	// InitialDelay is how long the pointer must hold in the band before the
	// first page turn.
	InitialDelay time.Duration
	// RepeatInterval spaces the following page turns.
	RepeatInterval time.Duration
}

func DefaultGestureConfig() GestureConfig {
	return GestureConfig{
		EdgeThreshold:  70,
		EdgeBuffer:     4,
		InitialDelay:   1100 * time.Millisecond,
		RepeatInterval: 1300 * time.Millisecond,
	}
}

// Bounds is the horizontal extent of the calendar grid.
type Bounds struct {
	Left, Right float64
}

// Pointer is one drag-over sample: the pointer position, the grid extent and
// the day cell under the pointer, if any.
type Pointer struct {
	X    float64
	Grid Bounds
	Cell *Day
}

// DragSession is a snapshot of the in-flight drag.
type DragSession struct {
	DraggedWorkout      domain.Workout
	DragOverDate        *Day
	NavigationDirection Direction
	EdgeHoldStartedAt   time.Time
}

// DropResult describes what a drop asks the caller to do.
type DropResult struct {
	Workout domain.Workout
	Day     Day
	// Commit is false when there was nothing to drop on, or when the target
	// is the workout's current day.
	Commit bool
}

// Gesture is the drag-to-reschedule state machine of one calendar view.
// The paging timer is stored with the session and cancelled on every exit,
// direction switch and drop; a generation counter keeps a callback that lost
// the race with cancellation from acting.
type Gesture struct {
	cfg      GestureConfig
	clock    Clock
	navigate func(Direction)

	mu      sync.Mutex
	session *DragSession
	timer   Timer
	gen     uint64
}

// NewGesture builds the state machine. navigate is called whenever the edge
// band turns a page, outside the gesture lock, so it may query or drive the
// Gesture.
func NewGesture(cfg GestureConfig, clock Clock, navigate func(Direction)) *Gesture {
	if clock == nil {
		clock = SystemClock()
	}
	if navigate == nil {
		navigate = func(Direction) {}
	}
	return &Gesture{cfg: cfg, clock: clock, navigate: navigate}
}

// Start begins a drag of w. It fails if a session is already in flight.
func (g *Gesture) Start(w domain.Workout) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session != nil {
		return false
	}
	g.session = &DragSession{DraggedWorkout: w.Clone()}
	return true
}

// Over feeds a pointer sample and returns the resulting state.
func (g *Gesture) Over(p Pointer) GestureState {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.session
	if s == nil {
		return Idle
	}

	if p.Cell != nil {
		c := *p.Cell
		s.DragOverDate = &c
	} else {
		s.DragOverDate = nil
	}

	dir := g.edgeDirection(p)
	switch {
	case dir == NoDirection:
		g.disarmLocked()
		s.NavigationDirection = NoDirection
		s.EdgeHoldStartedAt = time.Time{}
	case dir != s.NavigationDirection:
		g.disarmLocked()
		s.NavigationDirection = dir
		s.EdgeHoldStartedAt = g.clock.Now()
		g.armLocked(dir, g.cfg.InitialDelay)
	}
	return g.stateLocked()
}

// Leave is a drag-leave of the whole grid: highlight and paging stop, the
// session stays alive.
func (g *Gesture) Leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return
	}
	g.disarmLocked()
	g.session.DragOverDate = nil
	g.session.NavigationDirection = NoDirection
	g.session.EdgeHoldStartedAt = time.Time{}
}

// Drop ends the session on cell (or the last hovered cell when nil).
func (g *Gesture) Drop(cell *Day) DropResult {
	g.mu.Lock()
	s := g.endLocked()
	g.mu.Unlock()
	if s == nil {
		return DropResult{}
	}

	target := s.DragOverDate
	if cell != nil {
		target = cell
	}
	if target == nil {
		return DropResult{Workout: s.DraggedWorkout}
	}
	res := DropResult{Workout: s.DraggedWorkout, Day: *target, Commit: true}
	if current, ok := ScheduledDay(s.DraggedWorkout.ScheduledDate); ok && current == *target {
		res.Commit = false
	}
	return res
}

// End abandons the drag without a drop.
func (g *Gesture) End() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endLocked()
}

func (g *Gesture) State() GestureState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

// Session returns a copy of the in-flight session.
func (g *Gesture) Session() (DragSession, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return DragSession{}, false
	}
	s := *g.session
	if s.DragOverDate != nil {
		d := *s.DragOverDate
		s.DragOverDate = &d
	}
	return s, true
}

func (g *Gesture) stateLocked() GestureState {
	switch {
	case g.session == nil:
		return Idle
	case g.session.NavigationDirection != NoDirection:
		return HoveringEdge
	case g.session.DragOverDate != nil:
		return HoveringCell
	}
	return Dragging
}

func (g *Gesture) edgeDirection(p Pointer) Direction {
	if p.Grid.Right <= p.Grid.Left {
		return NoDirection
	}
	fromLeft := p.X - p.Grid.Left
	fromRight := p.Grid.Right - p.X
	inBand := func(dist float64) bool {
		return dist > g.cfg.EdgeBuffer && dist < g.cfg.EdgeThreshold
	}
	switch {
	case inBand(fromLeft) && inBand(fromRight):
		if fromLeft <= fromRight {
			return Previous
		}
		return Next
	case inBand(fromLeft):
		return Previous
	case inBand(fromRight):
		return Next
	}
	return NoDirection
}

func (g *Gesture) armLocked(dir Direction, delay time.Duration) {
	g.gen++
	gen := g.gen
	g.timer = g.clock.AfterFunc(delay, func() { g.fire(gen, dir) })
}

func (g *Gesture) disarmLocked() {
	g.gen++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Gesture) endLocked() *DragSession {
	g.disarmLocked()
	s := g.session
	g.session = nil
	return s
}

// fire turns one page and re-arms at the slower repeat interval.
func (g *Gesture) fire(gen uint64, dir Direction) {
	g.mu.Lock()
	if g.session == nil || gen != g.gen || g.session.NavigationDirection != dir {
		g.mu.Unlock()
		return
	}
	g.armLocked(dir, g.cfg.RepeatInterval)
	g.mu.Unlock()
	g.navigate(dir)
}
