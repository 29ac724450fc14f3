package memory

import (
	"sort"
	"time"

	"github.com/chatcore/internal/model"
)

// Values leave the engine as copies so callers never alias engine state.

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Moderation = cloneModeration(u.Moderation)
	return &c
}

func cloneModeration(m model.Moderation) model.Moderation {
	if m.At != nil {
		at := *m.At
		m.At = &at
	}
	return m
}

func cloneChat(c *model.Chat) model.Chat {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	return out
}

func cloneMessage(m *model.Message) *model.Message {
	c := *m
	if m.Content != nil {
		s := *m.Content
		c.Content = &s
	}
	if m.Media != nil {
		media := *m.Media
		c.Media = &media
	}
	if m.ReplyToID != nil {
		id := *m.ReplyToID
		c.ReplyToID = &id
	}
	if m.EditedAt != nil {
		at := *m.EditedAt
		c.EditedAt = &at
	}
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		c.ReplyTo = &ref
	}
	return &c
}

func memberIDs(members map[string]time.Time) []string {
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
