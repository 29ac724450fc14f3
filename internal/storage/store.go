package storage

import (
	"context"
	"errors"
	"time"

	"github.com/chatcore/internal/model"
)

// ErrTransient marks a storage failure worth retrying (lost connection,
// serialization failure, attempt deadline). Engines wrap it; the service
// layer retries and finally reports apperr.ErrUnavailable.
var ErrTransient = errors.New("storage: transient failure")

// Users is the account directory's persistence.
type Users interface {
	// EnsureUser inserts u if no row with u.ID exists and returns the stored row.
	EnsureUser(ctx context.Context, u *model.User) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	SetOnline(ctx context.Context, id string, online bool) error
	SetModeration(ctx context.Context, id string, m model.Moderation) error
	SetRole(ctx context.Context, id string, role model.Role) error
	// DeleteUser removes id from every participant set, tombstones its
	// messages, drops its read cursors and deletes the row, atomically.
	DeleteUser(ctx context.Context, id string) error
}

// Chats owns chat rows and participant sets.
type Chats interface {
	// CreateChat stores c with its initial participants. For direct chats the
	// normalized pair is unique; a duplicate returns apperr.ErrConflict.
	CreateChat(ctx context.Context, c *model.Chat) error
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	FindDirectChat(ctx context.Context, userA, userB string) (*model.Chat, error)
	FindGlobalChat(ctx context.Context, name string) (*model.Chat, error)
	// AddParticipant is a no-op (added=false) for members and fails with
	// apperr.ErrChatFull at cap without touching the set.
	AddParticipant(ctx context.Context, chatID, userID string) (added bool, err error)
	RemoveParticipant(ctx context.Context, chatID, userID string) (removed bool, err error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	// ListUserChats returns non-global chats of userID, most recently updated first.
	ListUserChats(ctx context.Context, userID string) ([]model.Chat, error)
	ListGlobalChats(ctx context.Context) ([]model.Chat, error)
	// DeleteChat removes the chat with its messages, members and cursors atomically.
	DeleteChat(ctx context.Context, id string) error
}

// Messages owns the per-chat append-only log.
type Messages interface {
	// AppendMessage assigns m.CreatedAt (strictly after the chat's previous
	// message) and bumps the chat's UpdatedAt in the same atomic unit. An id
	// that is already stored returns apperr.ErrConflict.
	AppendMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	GetMessagesByIDs(ctx context.Context, ids []string) (map[string]*model.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) (*model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	// ListMessages returns up to limit messages strictly before cursor (nil
	// means now), newest first.
	ListMessages(ctx context.Context, chatID string, limit int, before *model.PageCursor) ([]model.Message, error)
	LastMessage(ctx context.Context, chatID string) (*model.Message, error)
	SearchMessages(ctx context.Context, userID, query string, limit int, chatID string) ([]model.Message, error)
}

// ReadCursors holds one monotonic cursor per (chat, participant).
type ReadCursors interface {
	// AdvanceCursor moves the cursor to max(current, upTo); nil upTo means the
	// store's current time.
	AdvanceCursor(ctx context.Context, chatID, userID string, upTo *time.Time) (*model.ReadCursor, error)
	GetCursor(ctx context.Context, chatID, userID string) (*model.ReadCursor, error)
	// CountUnread counts messages after the cursor not sent by userID.
	CountUnread(ctx context.Context, chatID, userID string) (int, error)
}

// Store is the full capability set one engine provides. Engines:
// repository.Store (PostgreSQL), memory.Store (process-local, non-persistent).
type Store interface {
	Users
	Chats
	Messages
	ReadCursors
	Close() error
}

// PairLocker serializes check-then-create for one normalized direct pair.
// Implementations: memory.Locker (in-process), redis.Client (cross-process).
type PairLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
