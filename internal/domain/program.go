// internal/domain/program.go
package domain

import (
	"time"
)

// Program is a structured block of workouts a coach authors for an athlete.
type Program struct {
	ID          int64      `bson:"_id" json:"id"`
	CoachID     int64      `bson:"coachId" json:"coach_id"`     // Who authored the program
	AthleteID   int64      `bson:"athleteId" json:"athlete_id"` // Who the program is for
	Name        string     `bson:"name" json:"name"`            // e.g., "Phase 1: Hypertrophy"
	Description string     `bson:"description,omitempty" json:"description,omitempty"`
	StartDate   *time.Time `bson:"startDate,omitempty" json:"start_date,omitempty"`
	EndDate     *time.Time `bson:"endDate,omitempty" json:"end_date,omitempty"`
	IsActive    bool       `bson:"isActive" json:"is_active"`
	CreatedAt   time.Time  `bson:"createdAt" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updatedAt" json:"updated_at"`
}
