package model

import (
	"sort"
	"time"
)

type ChatKind string

const (
	ChatKindDirect ChatKind = "direct"
	ChatKindGroup  ChatKind = "group"
	ChatKindGlobal ChatKind = "global"
)

func (k ChatKind) Valid() bool {
	switch k {
	case ChatKindDirect, ChatKindGroup, ChatKindGlobal:
		return true
	}
	return false
}

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// DirectMemberCap is fixed: a direct chat always holds exactly one pair.
const DirectMemberCap = 2

type Chat struct {
	ID           string     `json:"id"`
	Kind         ChatKind   `json:"kind"`
	Name         string     `json:"name,omitempty"`
	Visibility   Visibility `json:"visibility"`
	MemberCap    int        `json:"member_cap"`
	CreatedBy    string     `json:"created_by"`
	Participants []string   `json:"participants"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasParticipant reports whether userID is in the participant set.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// DirectKey is the normalized (sorted) pair key that identifies the single
// direct chat allowed between two users.
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "\x00" + pair[1]
}

type ChatSummary struct {
	Chat        Chat     `json:"chat"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}

type ReadCursor struct {
	ChatID     string    `json:"chat_id"`
	UserID     string    `json:"user_id"`
	LastReadAt time.Time `json:"last_read_at"`
}
