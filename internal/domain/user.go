package domain

import (
	"time"
)

// Role type to distinguish between user roles
type Role string

const (
	RoleCoach   Role = "coach"
	RoleAthlete Role = "athlete"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCoach || r == RoleAthlete
}

// User is a coach or an athlete. Credentials live with the external auth
// provider, so only the profile and the coaching link are stored here.
type User struct {
	ID        int64     `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Email     string    `bson:"email" json:"email"`
	Role      Role      `bson:"role" json:"role"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`

	// --- Athlete-specific ---
	// Coach managing this athlete, if any.
	CoachID *int64 `bson:"coachId,omitempty" json:"coach_id,omitempty"`
}

func (u *User) IsCoach() bool {
	return u.Role == RoleCoach
}

func (u *User) IsAthlete() bool {
	return u.Role == RoleAthlete
}

// IsCoachedBy reports whether coachID manages this athlete.
func (u *User) IsCoachedBy(coachID int64) bool {
	return u.CoachID != nil && *u.CoachID == coachID
}
