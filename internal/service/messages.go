package service

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

const defaultPageSize = 50

// Messages owns the per-chat message log.
type Messages struct {
	store    storage.Store
	accounts *Accounts
	rt       retrier
	opts     Options
}

// Payload is what a client submits; ids and timestamps are assigned here.
type Payload struct {
	Type      model.MessageType
	Content   string
	Media     *model.Media
	ReplyToID string
}

func (p *Payload) validate() error {
	const op = "messages.validate"
	if p.Type == "" {
		p.Type = model.MessageTypeText
	}
	if !p.Type.Valid() {
		return apperr.Invalid(op, "unknown message type %q", p.Type)
	}
	p.Content = strings.TrimSpace(p.Content)
	if p.Media != nil {
		if strings.TrimSpace(p.Media.URL) == "" {
			return apperr.Invalid(op, "media without url")
		}
		if p.Media.DurationSec < 0 {
			return apperr.Invalid(op, "negative media duration")
		}
	}
	switch {
	case p.Type == model.MessageTypeText && p.Content == "":
		return apperr.Invalid(op, "text message without content")
	case p.Type.NeedsMedia() && p.Media == nil:
		return apperr.Invalid(op, "%s message without media", p.Type)
	}
	return nil
}

// Append adds a message to the chat. The sender must be a participant unless
// the chat is a global room. The store assigns CreatedAt.
func (s *Messages) Append(ctx context.Context, chatID, senderID string, p Payload) (*model.Message, error) {
	defer logger.DeferLogDuration("messages.Append", time.Now())()
	if err := p.validate(); err != nil {
		return nil, err
	}
	if _, err := s.accounts.requireWriter(ctx, senderID); err != nil {
		return nil, err
	}
	if _, err := s.requireAccess(ctx, chatID, senderID); err != nil {
		return nil, err
	}

	m := &model.Message{
		ID:       uuid.New().String(),
		ChatID:   chatID,
		SenderID: senderID,
		Type:     p.Type,
		Media:    p.Media,
	}
	if p.Content != "" {
		content := p.Content
		m.Content = &content
	}
	var target *model.Message
	if p.ReplyToID != "" {
		t, err := s.getMessage(ctx, p.ReplyToID)
		if errors.Is(err, apperr.ErrMessageNotFound) {
			return nil, apperr.ErrInvalidReply
		}
		if err != nil {
			return nil, err
		}
		if t.ChatID != chatID {
			return nil, apperr.ErrInvalidReply
		}
		target = t
		replyTo := p.ReplyToID
		m.ReplyToID = &replyTo
	}

	err := s.rt.do(ctx, "messages.Append", func(ctx context.Context) error {
		err := s.store.AppendMessage(ctx, m)
		if errors.Is(err, apperr.ErrConflict) {
			// The id is ours: an earlier attempt committed.
			stored, gerr := s.store.GetMessage(ctx, m.ID)
			if gerr != nil {
				return gerr
			}
			*m = *stored
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if target != nil {
		m.ReplyTo = replyRef(target.ID, target)
	}
	return m, nil
}

// Edit replaces the content of the requester's own message in a chat the
// requester still belongs to.
func (s *Messages) Edit(ctx context.Context, messageID, requesterID, newContent string) (*model.Message, error) {
	defer logger.DeferLogDuration("messages.Edit", time.Now())()
	content := strings.TrimSpace(newContent)
	if content == "" {
		return nil, apperr.Invalid("messages.Edit", "empty content")
	}
	if _, err := s.accounts.requireWriter(ctx, requesterID); err != nil {
		return nil, err
	}
	m, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != requesterID {
		return nil, apperr.ErrNotOwner
	}
	if _, err := s.requireAccess(ctx, m.ChatID, requesterID); err != nil {
		return nil, err
	}
	editedAt := time.Now().UTC()
	updated, err := call(ctx, s.rt, "messages.Edit", func(ctx context.Context) (*model.Message, error) {
		return s.store.UpdateMessageContent(ctx, messageID, content, editedAt)
	})
	if err != nil {
		return nil, err
	}
	page := []model.Message{*updated}
	if err := s.resolveReplies(ctx, page); err != nil {
		return nil, err
	}
	return &page[0], nil
}

// Delete removes a message. Its sender may delete it while still in the chat;
// moderators and admins may delete any message. Replies to it stay and
// resolve as unavailable.
func (s *Messages) Delete(ctx context.Context, messageID, requesterID string) error {
	defer logger.DeferLogDuration("messages.Delete", time.Now())()
	requester, err := s.accounts.RequireActive(ctx, requesterID)
	if err != nil {
		return err
	}
	m, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if !requester.Role.CanModerate() {
		if m.SenderID != requesterID {
			return apperr.ErrNotOwner
		}
		if _, err := s.requireAccess(ctx, m.ChatID, requesterID); err != nil {
			return err
		}
	}
	return s.remove(ctx, messageID)
}

func (s *Messages) remove(ctx context.Context, messageID string) error {
	return s.rt.do(ctx, "messages.remove", func(ctx context.Context) error {
		return s.store.DeleteMessage(ctx, messageID)
	})
}

// ListForChat returns up to limit messages strictly before the cursor,
// oldest first. before is either a NextBefore token from a previous page or
// a message id; empty means now.
func (s *Messages) ListForChat(ctx context.Context, chatID, callerID string, limit int, before string) (*model.MessagePage, error) {
	defer logger.DeferLogDuration("messages.ListForChat", time.Now())()
	if _, err := s.accounts.RequireActive(ctx, callerID); err != nil {
		return nil, err
	}
	if _, err := s.requireAccess(ctx, chatID, callerID); err != nil {
		return nil, err
	}
	limit = s.clampLimit(limit)
	cursor, err := s.parseCursor(ctx, chatID, before)
	if err != nil {
		return nil, err
	}

	msgs, err := call(ctx, s.rt, "messages.ListForChat", func(ctx context.Context) ([]model.Message, error) {
		return s.store.ListMessages(ctx, chatID, limit+1, cursor)
	})
	if err != nil {
		return nil, err
	}
	page := &model.MessagePage{}
	if len(msgs) > limit {
		msgs = msgs[:limit]
		oldest := msgs[len(msgs)-1]
		page.NextBefore = encodeCursor(oldest.CreatedAt, oldest.ID)
	}
	slices.Reverse(msgs)
	if err := s.resolveReplies(ctx, msgs); err != nil {
		return nil, err
	}
	page.Messages = msgs
	return page, nil
}

// Search does a case-insensitive content search across the user's chats,
// or one chat when chatID is set. Newest first.
func (s *Messages) Search(ctx context.Context, userID, query string, limit int, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("messages.Search", time.Now())()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Invalid("messages.Search", "empty query")
	}
	if _, err := s.accounts.RequireActive(ctx, userID); err != nil {
		return nil, err
	}
	limit = s.clampLimit(limit)
	msgs, err := call(ctx, s.rt, "messages.Search", func(ctx context.Context) ([]model.Message, error) {
		return s.store.SearchMessages(ctx, userID, query, limit, chatID)
	})
	if err != nil {
		return nil, err
	}
	if err := s.resolveReplies(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Messages) clampLimit(limit int) int {
	if limit <= 0 {
		limit = defaultPageSize
	}
	return min(limit, s.opts.MaxPageSize)
}

// requireAccess loads the chat and checks the caller may read and post in it.
func (s *Messages) requireAccess(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	chat, err := call(ctx, s.rt, "messages.requireAccess", func(ctx context.Context) (*model.Chat, error) {
		return s.store.GetChat(ctx, chatID)
	})
	if err != nil {
		return nil, err
	}
	if chat.Kind != model.ChatKindGlobal && !chat.HasParticipant(userID) {
		return nil, apperr.ErrNotParticipant
	}
	return chat, nil
}

func (s *Messages) getMessage(ctx context.Context, id string) (*model.Message, error) {
	return call(ctx, s.rt, "messages.getMessage", func(ctx context.Context) (*model.Message, error) {
		return s.store.GetMessage(ctx, id)
	})
}

// resolveReplies fills ReplyTo for every message that replies to another.
// Missing targets resolve with Available=false.
func (s *Messages) resolveReplies(ctx context.Context, msgs []model.Message) error {
	ids := make([]string, 0, len(msgs))
	for i := range msgs {
		if msgs[i].ReplyToID != nil {
			ids = append(ids, *msgs[i].ReplyToID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	targets, err := call(ctx, s.rt, "messages.resolveReplies", func(ctx context.Context) (map[string]*model.Message, error) {
		return s.store.GetMessagesByIDs(ctx, ids)
	})
	if err != nil {
		return err
	}
	for i := range msgs {
		if msgs[i].ReplyToID == nil {
			continue
		}
		id := *msgs[i].ReplyToID
		t := targets[id]
		if t != nil && t.ChatID != msgs[i].ChatID {
			t = nil
		}
		msgs[i].ReplyTo = replyRef(id, t)
	}
	return nil
}

func replyRef(id string, target *model.Message) *model.ReplyRef {
	if target == nil {
		return &model.ReplyRef{ID: id}
	}
	return &model.ReplyRef{
		ID:        id,
		Available: true,
		SenderID:  target.SenderID,
		Type:      target.Type,
		Content:   target.Content,
	}
}

// Page tokens are "<unix micros>:<message id>" so a page boundary survives
// deletion of the message it was taken from.
func encodeCursor(at time.Time, id string) string {
	return strconv.FormatInt(at.UnixMicro(), 10) + ":" + id
}

func (s *Messages) parseCursor(ctx context.Context, chatID, before string) (*model.PageCursor, error) {
	if before == "" {
		return nil, nil
	}
	if micros, id, ok := strings.Cut(before, ":"); ok {
		if n, err := strconv.ParseInt(micros, 10, 64); err == nil {
			return &model.PageCursor{At: time.UnixMicro(n).UTC(), ID: id}, nil
		}
	}
	m, err := s.getMessage(ctx, before)
	if err != nil {
		return nil, err
	}
	if m.ChatID != chatID {
		return nil, apperr.ErrMessageNotFound
	}
	return &model.PageCursor{At: m.CreatedAt, ID: m.ID}, nil
}
