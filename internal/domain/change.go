package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// ChangeType identifies what a ChangeMessage describes.
type ChangeType string

const (
	ChangeUpdated ChangeType = "updated"
	ChangeCreated ChangeType = "created"
)

var ErrInvalidChange = errors.New("invalid change message")

// ChangeMessage is produced once per successful write and fanned out to every
// observer. Observers apply it idempotently.
type ChangeMessage struct {
	Type      ChangeType     `json:"type"`
	WorkoutID int64          `json:"workoutId"`
	ProgramID *int64         `json:"programId,omitempty"`
	UserID    *int64         `json:"userId,omitempty"`
	Changes   WorkoutChanges `json:"changes"`
	Record    *Workout       `json:"record,omitempty"`
}

// NewUpdatedMessage builds an "updated" message scoped to the workout's owners.
func NewUpdatedMessage(w *Workout, changes WorkoutChanges) ChangeMessage {
	programID, userID := w.ProgramID, w.UserID
	return ChangeMessage{
		Type:      ChangeUpdated,
		WorkoutID: w.ID,
		ProgramID: &programID,
		UserID:    &userID,
		Changes:   changes,
	}
}

// NewCreatedMessage builds a "created" message carrying the full row.
func NewCreatedMessage(w *Workout) ChangeMessage {
	programID, userID := w.ProgramID, w.UserID
	record := w.Clone()
	return ChangeMessage{
		Type:      ChangeCreated,
		WorkoutID: w.ID,
		ProgramID: &programID,
		UserID:    &userID,
		Record:    &record,
	}
}

// Validate rejects messages no observer could apply.
func (m ChangeMessage) Validate() error {
	if m.WorkoutID <= 0 {
		return fmt.Errorf("%w: missing workout id", ErrInvalidChange)
	}
	switch m.Type {
	case ChangeUpdated:
		if m.Changes.Empty() {
			return fmt.Errorf("%w: no changes", ErrInvalidChange)
		}
	case ChangeCreated:
		if m.Record == nil || m.Record.ID != m.WorkoutID {
			return fmt.Errorf("%w: created message without matching record", ErrInvalidChange)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidChange, m.Type)
	}
	return nil
}

// DateChange carries a new scheduled date; a nil Value unschedules the workout.
type DateChange struct {
	Value *string
}

// WorkoutChanges is the whitelist of fields a ChangeMessage may touch.
// A nil field means "not part of this change".
type WorkoutChanges struct {
	ScheduledDate *DateChange
	Completed     *bool
}

// ScheduleChange is shorthand for a change that only moves the workout.
func ScheduleChange(scheduled *string) WorkoutChanges {
	var v *string
	if scheduled != nil {
		s := *scheduled
		v = &s
	}
	return WorkoutChanges{ScheduledDate: &DateChange{Value: v}}
}

func (c WorkoutChanges) Empty() bool {
	return c.ScheduledDate == nil && c.Completed == nil
}

// ApplyTo merges the whitelisted fields into w and reports whether w changed.
func (c WorkoutChanges) ApplyTo(w *Workout) bool {
	changed := false
	if c.ScheduledDate != nil && !sameString(w.ScheduledDate, c.ScheduledDate.Value) {
		if c.ScheduledDate.Value == nil {
			w.ScheduledDate = nil
		} else {
			s := *c.ScheduledDate.Value
			w.ScheduledDate = &s
		}
		changed = true
	}
	if c.Completed != nil && w.Completed != *c.Completed {
		w.Completed = *c.Completed
		changed = true
	}
	return changed
}

const (
	fieldScheduledDate = "scheduled_date"
	fieldCompleted     = "completed"
)

func (c WorkoutChanges) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 2)
	if c.ScheduledDate != nil {
		out[fieldScheduledDate] = c.ScheduledDate.Value
	}
	if c.Completed != nil {
		out[fieldCompleted] = *c.Completed
	}
	return json.Marshal(out)
}

// UnmarshalJSON keeps whitelisted keys only; anything else is discarded.
func (c *WorkoutChanges) UnmarshalJSON(data []byte) error {
	*c = WorkoutChanges{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw[fieldScheduledDate]; ok {
		var s *string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("%s: %w", fieldScheduledDate, err)
		}
		c.ScheduledDate = &DateChange{Value: s}
	}
	if v, ok := raw[fieldCompleted]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return fmt.Errorf("%s: %w", fieldCompleted, err)
		}
		c.Completed = &b
	}
	return nil
}

// ApplyChange merges msg into workouts. The input slice is never mutated; when
// nothing changes the original slice is returned with changed=false, so
// applying the same message twice is a no-op.
func ApplyChange(workouts []Workout, msg ChangeMessage) ([]Workout, bool) {
	idx := -1
	for i := range workouts {
		if workouts[i].ID == msg.WorkoutID {
			idx = i
			break
		}
	}

	switch msg.Type {
	case ChangeUpdated:
		if idx < 0 {
			return workouts, false
		}
		next := workouts[idx].Clone()
		if !msg.Changes.ApplyTo(&next) {
			return workouts, false
		}
		out := CloneWorkouts(workouts)
		out[idx] = next
		return out, true

	case ChangeCreated:
		if msg.Record == nil {
			return workouts, false
		}
		record := msg.Record.Clone()
		if idx >= 0 {
			if reflect.DeepEqual(workouts[idx], record) {
				return workouts, false
			}
			out := CloneWorkouts(workouts)
			out[idx] = record
			return out, true
		}
		out := make([]Workout, 0, len(workouts)+1)
		out = append(out, CloneWorkouts(workouts)...)
		return append(out, record), true
	}
	return workouts, false
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
