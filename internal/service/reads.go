package service

import (
	"context"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

// Reads tracks one read cursor per (chat, participant).
type Reads struct {
	store    storage.Store
	accounts *Accounts
	rt       retrier
}

// MarkRead advances the cursor to the given message, or to now when
// uptoMessageID is empty. The cursor never moves back, so repeated and
// out-of-order calls are harmless.
func (r *Reads) MarkRead(ctx context.Context, chatID, userID, uptoMessageID string) (*model.ReadCursor, error) {
	defer logger.DeferLogDuration("reads.MarkRead", time.Now())()
	if err := r.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	var upTo *time.Time
	if uptoMessageID != "" {
		m, err := call(ctx, r.rt, "reads.MarkRead message", func(ctx context.Context) (*model.Message, error) {
			return r.store.GetMessage(ctx, uptoMessageID)
		})
		if err != nil {
			return nil, err
		}
		if m.ChatID != chatID {
			return nil, apperr.ErrMessageNotFound
		}
		upTo = &m.CreatedAt
	}
	return call(ctx, r.rt, "reads.MarkRead", func(ctx context.Context) (*model.ReadCursor, error) {
		return r.store.AdvanceCursor(ctx, chatID, userID, upTo)
	})
}

// UnreadCount counts messages after the user's cursor that others sent.
func (r *Reads) UnreadCount(ctx context.Context, chatID, userID string) (int, error) {
	defer logger.DeferLogDuration("reads.UnreadCount", time.Now())()
	if err := r.requireParticipant(ctx, chatID, userID); err != nil {
		return 0, err
	}
	return call(ctx, r.rt, "reads.UnreadCount", func(ctx context.Context) (int, error) {
		return r.store.CountUnread(ctx, chatID, userID)
	})
}

func (r *Reads) requireParticipant(ctx context.Context, chatID, userID string) error {
	if _, err := r.accounts.RequireActive(ctx, userID); err != nil {
		return err
	}
	ok, err := call(ctx, r.rt, "reads.requireParticipant", func(ctx context.Context) (bool, error) {
		return r.store.IsParticipant(ctx, chatID, userID)
	})
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrNotParticipant
	}
	return nil
}
