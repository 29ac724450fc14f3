// Package memory is the process-local storage engine. Nothing is persisted:
// all chats, messages and cursors are lost when the process exits. It backs
// -memory mode and the test suites.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
)

type chatRow struct {
	chat          model.Chat
	members       map[string]time.Time // user id -> joined at
	lastMessageAt time.Time
	directKey     string
}

type cursorKey struct {
	chatID string
	userID string
}

type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	users    map[string]*model.User
	chats    map[string]*chatRow
	direct   map[string]string   // direct key -> chat id
	messages map[string]*model.Message
	log      map[string][]string // chat id -> message ids, oldest first
	cursors  map[cursorKey]time.Time
}

func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock lets tests drive the engine clock (including backwards jumps).
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		now:      now,
		users:    make(map[string]*model.User),
		chats:    make(map[string]*chatRow),
		direct:   make(map[string]string),
		messages: make(map[string]*model.Message),
		log:      make(map[string][]string),
		cursors:  make(map[cursorKey]time.Time),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// --- users ---

func (s *Store) EnsureUser(ctx context.Context, u *model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.ID]; ok {
		return cloneUser(existing), nil
	}
	stored := cloneUser(u)
	now := s.clock()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastSeenAt.IsZero() {
		stored.LastSeenAt = now
	}
	if stored.Role == "" {
		stored.Role = model.RoleUser
	}
	if stored.Moderation.State == "" {
		stored.Moderation.State = model.ModerationNone
	}
	s.users[u.ID] = stored
	return cloneUser(stored), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) SetOnline(ctx context.Context, id string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperr.ErrUserNotFound
	}
	u.IsOnline = online
	u.LastSeenAt = s.clock()
	return nil
}

func (s *Store) SetModeration(ctx context.Context, id string, m model.Moderation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperr.ErrUserNotFound
	}
	u.Moderation = cloneModeration(m)
	return nil
}

func (s *Store) SetRole(ctx context.Context, id string, role model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperr.ErrUserNotFound
	}
	u.Role = role
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return apperr.ErrUserNotFound
	}
	for _, row := range s.chats {
		if _, ok := row.members[id]; ok {
			delete(row.members, id)
			row.chat.Participants = memberIDs(row.members)
		}
	}
	for _, m := range s.messages {
		if m.SenderID == id {
			m.SenderID = ""
		}
	}
	for k := range s.cursors {
		if k.userID == id {
			delete(s.cursors, k)
		}
	}
	delete(s.users, id)
	return nil
}

// --- chats ---

func (s *Store) CreateChat(ctx context.Context, c *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[c.ID]; ok {
		return apperr.ErrConflict
	}
	var key string
	switch c.Kind {
	case model.ChatKindDirect:
		if len(c.Participants) != 2 {
			return apperr.ErrInvalidChatKind
		}
		key = model.DirectKey(c.Participants[0], c.Participants[1])
		if _, ok := s.direct[key]; ok {
			return apperr.ErrConflict
		}
	case model.ChatKindGlobal:
		for _, row := range s.chats {
			if row.chat.Kind == model.ChatKindGlobal && row.chat.Name == c.Name {
				return apperr.ErrConflict
			}
		}
	}
	now := s.clock()
	c.CreatedAt = now
	c.UpdatedAt = now
	row := &chatRow{chat: cloneChat(c), members: make(map[string]time.Time), directKey: key}
	for _, p := range c.Participants {
		row.members[p] = now
	}
	row.chat.Participants = memberIDs(row.members)
	c.Participants = append([]string(nil), row.chat.Participants...)
	s.chats[c.ID] = row
	if key != "" {
		s.direct[key] = c.ID
	}
	return nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.chats[id]
	if !ok {
		return nil, apperr.ErrChatNotFound
	}
	c := cloneChat(&row.chat)
	return &c, nil
}

func (s *Store) FindDirectChat(ctx context.Context, userA, userB string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.direct[model.DirectKey(userA, userB)]
	if !ok {
		return nil, apperr.ErrChatNotFound
	}
	c := cloneChat(&s.chats[id].chat)
	return &c, nil
}

func (s *Store) FindGlobalChat(ctx context.Context, name string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.chats {
		if row.chat.Kind == model.ChatKindGlobal && row.chat.Name == name {
			c := cloneChat(&row.chat)
			return &c, nil
		}
	}
	return nil, apperr.ErrChatNotFound
}

func (s *Store) AddParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.chats[chatID]
	if !ok {
		return false, apperr.ErrChatNotFound
	}
	if _, ok := row.members[userID]; ok {
		return false, nil
	}
	if len(row.members) >= row.chat.MemberCap {
		return false, apperr.ErrChatFull
	}
	row.members[userID] = s.clock()
	row.chat.Participants = memberIDs(row.members)
	return true, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.chats[chatID]
	if !ok {
		return false, apperr.ErrChatNotFound
	}
	if _, ok := row.members[userID]; !ok {
		return false, nil
	}
	delete(row.members, userID)
	row.chat.Participants = memberIDs(row.members)
	return true, nil
}

func (s *Store) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.chats[chatID]
	if !ok {
		return false, apperr.ErrChatNotFound
	}
	_, member := row.members[userID]
	return member, nil
}

func (s *Store) ListUserChats(ctx context.Context, userID string) ([]model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats := make([]model.Chat, 0, 16)
	for _, row := range s.chats {
		if row.chat.Kind == model.ChatKindGlobal {
			continue
		}
		if _, ok := row.members[userID]; ok {
			chats = append(chats, cloneChat(&row.chat))
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
		}
		return chats[i].ID > chats[j].ID
	})
	return chats, nil
}

func (s *Store) ListGlobalChats(ctx context.Context) ([]model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats := make([]model.Chat, 0, 4)
	for _, row := range s.chats {
		if row.chat.Kind == model.ChatKindGlobal {
			chats = append(chats, cloneChat(&row.chat))
		}
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].Name < chats[j].Name })
	return chats, nil
}

func (s *Store) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.chats[id]
	if !ok {
		return apperr.ErrChatNotFound
	}
	for _, mid := range s.log[id] {
		delete(s.messages, mid)
	}
	delete(s.log, id)
	for k := range s.cursors {
		if k.chatID == id {
			delete(s.cursors, k)
		}
	}
	if row.directKey != "" {
		delete(s.direct, row.directKey)
	}
	delete(s.chats, id)
	return nil
}

// --- messages ---

func (s *Store) AppendMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.chats[m.ChatID]
	if !ok {
		return apperr.ErrChatNotFound
	}
	if _, dup := s.messages[m.ID]; dup {
		return apperr.ErrConflict
	}
	at := s.clock()
	if !row.lastMessageAt.IsZero() && !at.After(row.lastMessageAt) {
		at = row.lastMessageAt.Add(time.Microsecond)
	}
	m.CreatedAt = at
	stored := cloneMessage(m)
	stored.ReplyTo = nil
	s.messages[m.ID] = stored
	s.log[m.ChatID] = append(s.log[m.ChatID], m.ID)
	row.lastMessageAt = at
	row.chat.UpdatedAt = at
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

func (s *Store) GetMessagesByIDs(ctx context.Context, ids []string) (map[string]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*model.Message, len(ids))
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			out[id] = cloneMessage(m)
		}
	}
	return out, nil
}

func (s *Store) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.ErrMessageNotFound
	}
	c := content
	at := editedAt.UTC()
	m.Content = &c
	m.EditedAt = &at
	return cloneMessage(m), nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return apperr.ErrMessageNotFound
	}
	ids := s.log[m.ChatID]
	for i, mid := range ids {
		if mid == id {
			s.log[m.ChatID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	delete(s.messages, id)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string, limit int, before *model.PageCursor) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.chats[chatID]; !ok {
		return nil, apperr.ErrChatNotFound
	}
	ids := s.log[chatID]
	out := make([]model.Message, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[ids[i]]
		if before != nil && !isBefore(m, before) {
			continue
		}
		out = append(out, *cloneMessage(m))
	}
	return out, nil
}

func isBefore(m *model.Message, c *model.PageCursor) bool {
	if m.CreatedAt.Before(c.At) {
		return true
	}
	return c.ID != "" && m.CreatedAt.Equal(c.At) && m.ID < c.ID
}

func (s *Store) LastMessage(ctx context.Context, chatID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.log[chatID]
	if len(ids) == 0 {
		return nil, nil
	}
	return cloneMessage(s.messages[ids[len(ids)-1]]), nil
}

func (s *Store) SearchMessages(ctx context.Context, userID, query string, limit int, chatID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	out := make([]model.Message, 0, limit)
	for _, m := range s.messages {
		if chatID != "" && m.ChatID != chatID {
			continue
		}
		row, ok := s.chats[m.ChatID]
		if !ok {
			continue
		}
		if _, member := row.members[userID]; !member {
			continue
		}
		if m.Content == nil || !strings.Contains(strings.ToLower(*m.Content), q) {
			continue
		}
		out = append(out, *cloneMessage(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- read cursors ---

func (s *Store) AdvanceCursor(ctx context.Context, chatID, userID string, upTo *time.Time) (*model.ReadCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.chats[chatID]
	if !ok {
		return nil, apperr.ErrChatNotFound
	}
	var target time.Time
	if upTo != nil {
		target = upTo.UTC()
	} else {
		// "now" covers every message appended so far even if the clock lags
		// behind the last assigned timestamp.
		target = s.clock()
		if row.lastMessageAt.After(target) {
			target = row.lastMessageAt
		}
	}
	k := cursorKey{chatID: chatID, userID: userID}
	if cur, ok := s.cursors[k]; !ok || target.After(cur) {
		s.cursors[k] = target
	}
	return &model.ReadCursor{ChatID: chatID, UserID: userID, LastReadAt: s.cursors[k]}, nil
}

func (s *Store) GetCursor(ctx context.Context, chatID, userID string) (*model.ReadCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.cursors[cursorKey{chatID: chatID, userID: userID}]
	if !ok {
		return nil, nil
	}
	return &model.ReadCursor{ChatID: chatID, UserID: userID, LastReadAt: at}, nil
}

func (s *Store) CountUnread(ctx context.Context, chatID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.chats[chatID]; !ok {
		return 0, apperr.ErrChatNotFound
	}
	cur := s.cursors[cursorKey{chatID: chatID, userID: userID}]
	n := 0
	ids := s.log[chatID]
	for i := len(ids) - 1; i >= 0; i-- {
		m := s.messages[ids[i]]
		if !m.CreatedAt.After(cur) {
			break
		}
		if m.SenderID != userID {
			n++
		}
	}
	return n, nil
}
