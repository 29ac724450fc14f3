package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

// Directory owns chats and their participant sets.
type Directory struct {
	store    storage.Store
	locker   storage.PairLocker
	accounts *Accounts
	rt       retrier
	opts     Options
}

type CreateChatParams struct {
	Kind       model.ChatKind
	Name       string
	Visibility model.Visibility
	Cap        int
	// Members are added with the creator in the same write.
	Members []string
}

// CreateChat creates a group chat with the creator as first participant.
// Direct chats come only from GetOrCreateDirectChat and global rooms only
// from BootstrapGlobalRoom.
func (d *Directory) CreateChat(ctx context.Context, creatorID string, p CreateChatParams) (*model.Chat, error) {
	defer logger.DeferLogDuration("directory.CreateChat", time.Now())()
	if p.Kind == "" {
		p.Kind = model.ChatKindGroup
	}
	if p.Kind != model.ChatKindGroup {
		return nil, apperr.ErrInvalidChatKind
	}
	if p.Visibility == "" {
		p.Visibility = model.VisibilityPrivate
	}
	if !p.Visibility.Valid() {
		return nil, apperr.ErrInvalidChatKind
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, apperr.Invalid("directory.CreateChat", "group name is required")
	}
	limit := p.Cap
	if limit == 0 || limit > d.opts.GroupMemberCap {
		limit = d.opts.GroupMemberCap
	}
	if limit < 1 {
		limit = 1
	}
	if _, err := d.accounts.requireWriter(ctx, creatorID); err != nil {
		return nil, err
	}

	participants := []string{creatorID}
	seen := map[string]bool{creatorID: true}
	for _, uid := range p.Members {
		uid = strings.TrimSpace(uid)
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		participants = append(participants, uid)
	}
	if len(participants) > limit {
		return nil, apperr.ErrChatFull
	}
	for _, uid := range participants[1:] {
		if _, err := d.accounts.RequireActive(ctx, uid); err != nil {
			return nil, err
		}
	}

	chat := &model.Chat{
		ID:           uuid.New().String(),
		Kind:         model.ChatKindGroup,
		Name:         name,
		Visibility:   p.Visibility,
		MemberCap:    limit,
		CreatedBy:    creatorID,
		Participants: participants,
	}
	err := d.rt.do(ctx, "directory.CreateChat", func(ctx context.Context) error {
		err := d.store.CreateChat(ctx, chat)
		if errors.Is(err, apperr.ErrConflict) {
			// An earlier attempt committed before its reply was lost.
			stored, gerr := d.store.GetChat(ctx, chat.ID)
			if gerr != nil {
				return gerr
			}
			*chat = *stored
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("directory.CreateChat: chat %s created by %s", chat.ID, creatorID)
	return chat, nil
}

// BootstrapGlobalRoom creates the named global room if it does not exist.
// It is the only way global rooms come into being.
func (d *Directory) BootstrapGlobalRoom(ctx context.Context, name string) (*model.Chat, error) {
	defer logger.DeferLogDuration("directory.BootstrapGlobalRoom", time.Now())()
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("directory.BootstrapGlobalRoom", "room name is required")
	}
	find := func(ctx context.Context) (*model.Chat, error) { return d.store.FindGlobalChat(ctx, name) }
	room, err := call(ctx, d.rt, "directory.BootstrapGlobalRoom", find)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, apperr.ErrChatNotFound) {
		return nil, err
	}
	room = &model.Chat{
		ID:           uuid.New().String(),
		Kind:         model.ChatKindGlobal,
		Name:         name,
		Visibility:   model.VisibilityPublic,
		MemberCap:    d.opts.GlobalMemberCap,
		Participants: []string{},
	}
	err = d.rt.do(ctx, "directory.BootstrapGlobalRoom", func(ctx context.Context) error {
		return d.store.CreateChat(ctx, room)
	})
	if errors.Is(err, apperr.ErrConflict) {
		return call(ctx, d.rt, "directory.BootstrapGlobalRoom", find)
	}
	if err != nil {
		return nil, err
	}
	logger.Infof("directory.BootstrapGlobalRoom: room %q created (%s)", name, room.ID)
	return room, nil
}

// GetOrCreateDirectChat returns the single direct chat of the pair, creating
// it if needed. Concurrent calls for the same pair all return one chat: the
// pair lock serializes check-then-create and the store's unique pair key
// turns a lost race into a re-read.
func (d *Directory) GetOrCreateDirectChat(ctx context.Context, userA, userB string) (*model.Chat, error) {
	defer logger.DeferLogDuration("directory.GetOrCreateDirectChat", time.Now())()
	if userA == userB {
		return nil, apperr.ErrSameUser
	}
	caller, err := d.accounts.RequireActive(ctx, userA)
	if err != nil {
		return nil, err
	}
	if _, err := d.accounts.GetUser(ctx, userB); err != nil {
		return nil, err
	}

	find := func(ctx context.Context) (*model.Chat, error) { return d.store.FindDirectChat(ctx, userA, userB) }
	chat, err := call(ctx, d.rt, "directory.GetOrCreateDirectChat", find)
	if err == nil {
		return d.rejoinDirect(ctx, chat, userA, userB)
	}
	if !errors.Is(err, apperr.ErrChatNotFound) {
		return nil, err
	}
	if caller.IsRestricted() {
		return nil, apperr.ErrUserRestricted
	}

	key := model.DirectKey(userA, userB)
	unlock, lerr := d.locker.Lock(ctx, key, d.opts.DirectLockTTL)
	if lerr != nil {
		// The unique pair key still keeps the pair single.
		logger.Errorf("directory.GetOrCreateDirectChat: pair lock: %v", lerr)
	} else {
		defer unlock()
		chat, err = call(ctx, d.rt, "directory.GetOrCreateDirectChat", find)
		if err == nil {
			return d.rejoinDirect(ctx, chat, userA, userB)
		}
		if !errors.Is(err, apperr.ErrChatNotFound) {
			return nil, err
		}
	}

	chat = &model.Chat{
		ID:           uuid.New().String(),
		Kind:         model.ChatKindDirect,
		Visibility:   model.VisibilityPrivate,
		MemberCap:    model.DirectMemberCap,
		CreatedBy:    userA,
		Participants: []string{userA, userB},
	}
	err = d.rt.do(ctx, "directory.GetOrCreateDirectChat", func(ctx context.Context) error {
		return d.store.CreateChat(ctx, chat)
	})
	if errors.Is(err, apperr.ErrConflict) {
		logger.Debugf("directory.GetOrCreateDirectChat: lost create race for %s/%s, re-reading", userA, userB)
		chat, err = call(ctx, d.rt, "directory.GetOrCreateDirectChat", find)
		if err != nil {
			return nil, err
		}
		return d.rejoinDirect(ctx, chat, userA, userB)
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// rejoinDirect restores a participant who left the pair's chat, so the chat
// returned always holds both users.
func (d *Directory) rejoinDirect(ctx context.Context, chat *model.Chat, userA, userB string) (*model.Chat, error) {
	if chat.HasParticipant(userA) && chat.HasParticipant(userB) {
		return chat, nil
	}
	for _, uid := range []string{userA, userB} {
		if chat.HasParticipant(uid) {
			continue
		}
		err := d.rt.do(ctx, "directory.rejoinDirect", func(ctx context.Context) error {
			_, err := d.store.AddParticipant(ctx, chat.ID, uid)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return call(ctx, d.rt, "directory.rejoinDirect", func(ctx context.Context) (*model.Chat, error) {
		return d.store.GetChat(ctx, chat.ID)
	})
}

// AddParticipant adds userID to the chat. Global rooms accept self-joins from
// any non-banned user. A direct chat takes back only the other user of its
// pair. Groups accept additions from a participant or the creator. Adding an
// existing member is a no-op.
func (d *Directory) AddParticipant(ctx context.Context, chatID, actorID, userID string) (*model.Chat, error) {
	defer logger.DeferLogDuration("directory.AddParticipant", time.Now())()
	if _, err := d.accounts.RequireActive(ctx, actorID); err != nil {
		return nil, err
	}
	chat, err := d.getChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	switch chat.Kind {
	case model.ChatKindGlobal:
		if actorID != userID {
			return nil, apperr.ErrForbidden
		}
	case model.ChatKindDirect:
		if !chat.HasParticipant(actorID) {
			return nil, apperr.ErrNotParticipant
		}
		if err := d.requireSamePair(ctx, chat, actorID, userID); err != nil {
			return nil, err
		}
	default:
		if !chat.HasParticipant(actorID) && chat.CreatedBy != actorID {
			return nil, apperr.ErrNotParticipant
		}
	}
	if chat.HasParticipant(userID) {
		return chat, nil
	}
	if actorID != userID {
		if _, err := d.accounts.RequireActive(ctx, userID); err != nil {
			return nil, err
		}
	}
	err = d.rt.do(ctx, "directory.AddParticipant", func(ctx context.Context) error {
		_, err := d.store.AddParticipant(ctx, chatID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d.getChat(ctx, chatID)
}

// requireSamePair accepts userID only if the pair key of actor and userID
// names this chat, so a direct chat never gains a third user.
func (d *Directory) requireSamePair(ctx context.Context, chat *model.Chat, actorID, userID string) error {
	if actorID == userID {
		return nil
	}
	pair, err := call(ctx, d.rt, "directory.requireSamePair", func(ctx context.Context) (*model.Chat, error) {
		return d.store.FindDirectChat(ctx, actorID, userID)
	})
	if errors.Is(err, apperr.ErrChatNotFound) || (err == nil && pair.ID != chat.ID) {
		return apperr.ErrInvalidChatKind
	}
	return err
}

// RemoveParticipant lets a member leave, or the group creator remove others.
// The chat survives with no participants; a direct chat becomes one-sided.
func (d *Directory) RemoveParticipant(ctx context.Context, chatID, actorID, userID string) error {
	defer logger.DeferLogDuration("directory.RemoveParticipant", time.Now())()
	chat, err := d.getChat(ctx, chatID)
	if err != nil {
		return err
	}
	if actorID != userID {
		if chat.Kind != model.ChatKindGroup || chat.CreatedBy != actorID {
			return apperr.ErrNotOwner
		}
	}
	if !chat.HasParticipant(userID) {
		return apperr.ErrNotParticipant
	}
	return d.rt.do(ctx, "directory.RemoveParticipant", func(ctx context.Context) error {
		_, err := d.store.RemoveParticipant(ctx, chatID, userID)
		return err
	})
}

// GetChat returns the chat to a participant, or to anyone for global rooms.
func (d *Directory) GetChat(ctx context.Context, chatID, callerID string) (*model.Chat, error) {
	defer logger.DeferLogDuration("directory.GetChat", time.Now())()
	chat, err := d.getChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Kind != model.ChatKindGlobal && !chat.HasParticipant(callerID) {
		return nil, apperr.ErrNotParticipant
	}
	return chat, nil
}

func (d *Directory) getChat(ctx context.Context, chatID string) (*model.Chat, error) {
	return call(ctx, d.rt, "directory.getChat", func(ctx context.Context) (*model.Chat, error) {
		return d.store.GetChat(ctx, chatID)
	})
}

// ListForUser returns the user's non-global chats, most recently updated
// first, each with its last message and the user's unread count. For every
// chat the last message is read before the unread count, so a reported
// count never lags the message shown next to it.
func (d *Directory) ListForUser(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	defer logger.DeferLogDuration("directory.ListForUser", time.Now())()
	chats, err := call(ctx, d.rt, "directory.ListForUser", func(ctx context.Context) ([]model.Chat, error) {
		return d.store.ListUserChats(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.ChatSummary, len(chats))
	gone := make([]bool, len(chats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.SummaryWorkers)
	for i := range chats {
		g.Go(func() error {
			last, err := call(gctx, d.rt, "directory.ListForUser last", func(ctx context.Context) (*model.Message, error) {
				return d.store.LastMessage(ctx, chats[i].ID)
			})
			if err != nil {
				return err
			}
			unread, err := call(gctx, d.rt, "directory.ListForUser unread", func(ctx context.Context) (int, error) {
				return d.store.CountUnread(ctx, chats[i].ID, userID)
			})
			if errors.Is(err, apperr.ErrChatNotFound) {
				gone[i] = true
				return nil
			}
			if err != nil {
				return err
			}
			out[i] = model.ChatSummary{Chat: chats[i], LastMessage: last, UnreadCount: unread}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := out[:0]
	for i := range out {
		if !gone[i] {
			result = append(result, out[i])
		}
	}
	return result, nil
}

// ListGlobalRooms lists every global room regardless of membership.
func (d *Directory) ListGlobalRooms(ctx context.Context) ([]model.Chat, error) {
	defer logger.DeferLogDuration("directory.ListGlobalRooms", time.Now())()
	return call(ctx, d.rt, "directory.ListGlobalRooms", func(ctx context.Context) ([]model.Chat, error) {
		return d.store.ListGlobalChats(ctx)
	})
}
