package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
)

// ReadRepository stores one last-read watermark per (chat, user) instead of
// per-message read flags; unread counts are a range count over messages.
type ReadRepository struct {
	pool *pgxpool.Pool
}

func NewReadRepository(pool *pgxpool.Pool) *ReadRepository {
	return &ReadRepository{pool: pool}
}

// AdvanceCursor upserts the cursor with GREATEST so it never regresses,
// whatever order duplicate or late requests arrive in. Without upTo the
// target is now, or the chat's last stamp if that is later. The chat row is
// held FOR SHARE, so an append still in flight commits before "now" is taken
// and cannot land behind the cursor.
func (r *ReadRepository) AdvanceCursor(ctx context.Context, chatID, userID string, upTo *time.Time) (*model.ReadCursor, error) {
	defer logger.DeferLogDuration("read.AdvanceCursor", time.Now())()
	cur := &model.ReadCursor{ChatID: chatID, UserID: userID}
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var lastAt *time.Time
		if err := tx.QueryRow(ctx,
			`SELECT last_message_at FROM chats WHERE id = $1 FOR SHARE`, chatID,
		).Scan(&lastAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrChatNotFound
			}
			return err
		}
		return tx.QueryRow(ctx,
			`INSERT INTO read_cursors (chat_id, user_id, last_read_at)
			 VALUES ($1, $2, COALESCE($3::timestamptz, GREATEST(clock_timestamp(), $4::timestamptz)))
			 ON CONFLICT (chat_id, user_id)
			 DO UPDATE SET last_read_at = GREATEST(read_cursors.last_read_at, EXCLUDED.last_read_at)
			 RETURNING last_read_at`,
			chatID, userID, upTo, lastAt,
		).Scan(&cur.LastReadAt)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrChatNotFound) {
			return nil, err
		}
		if isForeignKeyViolation(err) {
			return nil, apperr.Wrap(apperr.ErrUserNotFound, "readRepo.AdvanceCursor", err)
		}
		return nil, pgErr("readRepo.AdvanceCursor", err)
	}
	return cur, nil
}

func (r *ReadRepository) GetCursor(ctx context.Context, chatID, userID string) (*model.ReadCursor, error) {
	defer logger.DeferLogDuration("read.GetCursor", time.Now())()
	cur := &model.ReadCursor{ChatID: chatID, UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT last_read_at FROM read_cursors WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&cur.LastReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pgErr("readRepo.GetCursor", err)
	}
	return cur, nil
}

// CountUnread counts messages after the user's cursor, excluding their own.
// Tombstoned senders (NULL) count as someone else.
func (r *ReadRepository) CountUnread(ctx context.Context, chatID, userID string) (int, error) {
	defer logger.DeferLogDuration("read.CountUnread", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 LEFT JOIN read_cursors rc ON rc.chat_id = m.chat_id AND rc.user_id = $2
		 WHERE m.chat_id = $1
		   AND m.sender_id IS DISTINCT FROM $2
		   AND (rc.last_read_at IS NULL OR m.created_at > rc.last_read_at)`,
		chatID, userID,
	).Scan(&count)
	if err != nil {
		return 0, pgErr("readRepo.CountUnread", err)
	}
	return count, nil
}
