package calendar

import (
	"alcyxob/fitness-calendar/internal/broadcast"
	"alcyxob/fitness-calendar/internal/domain"
	"alcyxob/fitness-calendar/internal/repository"
	"slices"
)

// ScopeKind says which identifier pins a calendar view.
type ScopeKind int

const (
	// ScopeProgram is a coach looking at one program.
	ScopeProgram ScopeKind = iota
	// ScopeUser is a coach looking at one athlete across programs.
	ScopeUser
	// ScopeVisible is everything else, typically an athlete's own calendar:
	// the programs present in the visible workouts plus the viewer's own rows.
	ScopeVisible
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeProgram:
		return "program"
	case ScopeUser:
		return "user"
	default:
		return "visible"
	}
}

// ScopeParams are the view parameters a scope is derived from.
type ScopeParams struct {
	Role      domain.Role
	ViewerID  int64
	ProgramID *int64
	UserID    *int64
	Visible   []domain.Workout
}

// Scope is the set of programs/users a view displays and reacts to.
type Scope struct {
	Kind       ScopeKind
	ProgramID  int64
	UserID     int64
	ProgramIDs []int64 // ScopeVisible only, sorted and unique
	ViewerID   int64
}

// ResolveScope applies the pinning rules in order: a pinned program wins,
// then a pinned athlete when the viewer is a coach, then the visible set.
func ResolveScope(p ScopeParams) Scope {
	if p.ProgramID != nil {
		return Scope{Kind: ScopeProgram, ProgramID: *p.ProgramID, ViewerID: p.ViewerID}
	}
	if p.UserID != nil && p.Role == domain.RoleCoach {
		return Scope{Kind: ScopeUser, UserID: *p.UserID, ViewerID: p.ViewerID}
	}

	ids := make([]int64, 0, len(p.Visible))
	for _, w := range p.Visible {
		if w.ProgramID != 0 {
			ids = append(ids, w.ProgramID)
		}
	}
	slices.Sort(ids)
	return Scope{Kind: ScopeVisible, ProgramIDs: slices.Compact(ids), ViewerID: p.ViewerID}
}

// InScope reports whether msg concerns this view. The visible scope matches
// on program OR user, so messages filling only one of the two still land.
func (s Scope) InScope(msg domain.ChangeMessage) bool {
	switch s.Kind {
	case ScopeProgram:
		return msg.ProgramID != nil && *msg.ProgramID == s.ProgramID
	case ScopeUser:
		return msg.UserID != nil && *msg.UserID == s.UserID
	default:
		if msg.ProgramID != nil {
			if _, found := slices.BinarySearch(s.ProgramIDs, *msg.ProgramID); found {
				return true
			}
		}
		return msg.UserID != nil && s.ViewerID != 0 && *msg.UserID == s.ViewerID
	}
}

// Channels lists the relayed channels to join: one per program id for the
// visible scope, plus the viewer's own channel.
func (s Scope) Channels() []string {
	switch s.Kind {
	case ScopeProgram:
		return []string{broadcast.ProgramChannel(s.ProgramID)}
	case ScopeUser:
		return []string{broadcast.UserChannel(s.UserID)}
	default:
		out := make([]string, 0, len(s.ProgramIDs)+1)
		for _, id := range s.ProgramIDs {
			out = append(out, broadcast.ProgramChannel(id))
		}
		if s.ViewerID != 0 {
			out = append(out, broadcast.UserChannel(s.ViewerID))
		}
		return out
	}
}

// Filter is the storage-side selection for refetches and the change feed.
func (s Scope) Filter() repository.WorkoutFilter {
	switch s.Kind {
	case ScopeProgram:
		return repository.WorkoutFilter{ProgramIDs: []int64{s.ProgramID}}
	case ScopeUser:
		uid := s.UserID
		return repository.WorkoutFilter{UserID: &uid}
	default:
		f := repository.WorkoutFilter{ProgramIDs: slices.Clone(s.ProgramIDs)}
		if s.ViewerID != 0 {
			uid := s.ViewerID
			f.UserID = &uid
		}
		return f
	}
}

func (s Scope) Equal(o Scope) bool {
	return s.Kind == o.Kind &&
		s.ProgramID == o.ProgramID &&
		s.UserID == o.UserID &&
		s.ViewerID == o.ViewerID &&
		slices.Equal(s.ProgramIDs, o.ProgramIDs)
}
