package model

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// CanModerate reports whether the role may delete other users' messages.
func (r Role) CanModerate() bool {
	return r == RoleModerator || r == RoleAdmin
}

type ModerationState string

const (
	ModerationNone       ModerationState = "none"
	ModerationRestricted ModerationState = "restricted"
	ModerationBanned     ModerationState = "banned"
)

// Moderation is the reversible moderation status of an account.
// Reason and At are empty when State is ModerationNone.
type Moderation struct {
	State  ModerationState `json:"state"`
	Reason string          `json:"reason,omitempty"`
	At     *time.Time      `json:"at,omitempty"`
}

type User struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Role        Role       `json:"role"`
	Moderation  Moderation `json:"moderation"`
	IsOnline    bool       `json:"is_online"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (u *User) IsBanned() bool     { return u.Moderation.State == ModerationBanned }
func (u *User) IsRestricted() bool { return u.Moderation.State == ModerationRestricted }
