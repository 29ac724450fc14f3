package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
)

const msgCols = `m.id, m.chat_id, COALESCE(m.sender_id, ''), m.content, m.message_type,
	m.media_url, m.media_file_name, m.media_duration_sec, m.media_thumbnail_url,
	m.reply_to_id, m.edited_at, m.created_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s scanner, m *model.Message) error {
	var (
		mediaURL, mediaName, mediaThumb *string
		mediaDuration                   *int32
	)
	if err := s.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Type,
		&mediaURL, &mediaName, &mediaDuration, &mediaThumb,
		&m.ReplyToID, &m.EditedAt, &m.CreatedAt); err != nil {
		return err
	}
	if mediaURL != nil {
		m.Media = &model.Media{URL: *mediaURL}
		if mediaName != nil {
			m.Media.FileName = *mediaName
		}
		if mediaDuration != nil {
			m.Media.DurationSec = int(*mediaDuration)
		}
		if mediaThumb != nil {
			m.Media.ThumbnailURL = *mediaThumb
		}
	}
	return nil
}

func mediaArgs(m *model.Media) (url, name *string, duration *int32, thumb *string) {
	if m == nil {
		return nil, nil, nil, nil
	}
	url = &m.URL
	if m.FileName != "" {
		name = &m.FileName
	}
	if m.DurationSec > 0 {
		d := int32(m.DurationSec)
		duration = &d
	}
	if m.ThumbnailURL != "" {
		thumb = &m.ThumbnailURL
	}
	return url, name, duration, thumb
}

// AppendMessage takes the next timestamp of the chat and inserts the message
// in one transaction. The UPDATE row-locks the chat, so appends to one chat
// are serialized and created_at is strictly increasing even if the database
// clock steps back. A failed insert rolls back the updated_at bump.
func (r *MessageRepository) AppendMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.AppendMessage", time.Now())()
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`WITH t AS (SELECT clock_timestamp() AS now)
			 UPDATE chats c
			    SET last_message_at = GREATEST(t.now, c.last_message_at + interval '1 microsecond'),
			        updated_at      = GREATEST(t.now, c.last_message_at + interval '1 microsecond')
			   FROM t
			  WHERE c.id = $1
			 RETURNING c.last_message_at`,
			m.ChatID,
		).Scan(&m.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.ErrChatNotFound
		}
		if err != nil {
			return pgErr("msgRepo.AppendMessage stamp", err)
		}
		url, name, duration, thumb := mediaArgs(m.Media)
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (id, chat_id, sender_id, content, message_type,
			                       media_url, media_file_name, media_duration_sec, media_thumbnail_url,
			                       reply_to_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			m.ID, m.ChatID, m.SenderID, m.Content, m.Type, url, name, duration, thumb, m.ReplyToID, m.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return apperr.Wrap(apperr.ErrConflict, "msgRepo.AppendMessage", err)
			}
			return pgErr("msgRepo.AppendMessage", err)
		}
		return nil
	})
	return err
}

func (r *MessageRepository) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetMessage", time.Now())()
	m := &model.Message{}
	if err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+msgCols+` FROM messages m WHERE m.id = $1`, id), m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrMessageNotFound
		}
		return nil, pgErr("msgRepo.GetMessage", err)
	}
	return m, nil
}

func (r *MessageRepository) GetMessagesByIDs(ctx context.Context, ids []string) (map[string]*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetMessagesByIDs", time.Now())()
	out := make(map[string]*model.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+msgCols+` FROM messages m WHERE m.id = ANY($1)`, ids)
	if err != nil {
		return nil, pgErr("msgRepo.GetMessagesByIDs query", err)
	}
	defer rows.Close()
	for rows.Next() {
		m := &model.Message{}
		if err := scanMessage(rows, m); err != nil {
			return nil, pgErr("msgRepo.GetMessagesByIDs scan", err)
		}
		out[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("msgRepo.GetMessagesByIDs rows", err)
	}
	return out, nil
}

// UpdateContent edits a message's content and sets edited_at.
func (r *MessageRepository) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.UpdateMessageContent", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`UPDATE messages m SET content = $1, edited_at = $2 WHERE m.id = $3
		 RETURNING `+msgCols,
		content, editedAt, id,
	), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrMessageNotFound
	}
	if err != nil {
		return nil, pgErr("msgRepo.UpdateMessageContent", err)
	}
	return m, nil
}

func (r *MessageRepository) DeleteMessage(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.DeleteMessage", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return pgErr("msgRepo.DeleteMessage", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrMessageNotFound
	}
	return nil
}

// ListMessages pages backwards over (created_at, id). A cursor without id
// excludes every message stamped at or after cursor.At.
func (r *MessageRepository) ListMessages(ctx context.Context, chatID string, limit int, before *model.PageCursor) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListMessages", time.Now())()
	var (
		beforeAt *time.Time
		beforeID string
	)
	if before != nil {
		at := before.At
		beforeAt = &at
		beforeID = before.ID
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 WHERE m.chat_id = $1
		   AND ($2::timestamptz IS NULL OR (m.created_at, m.id) < ($2::timestamptz, $3::text))
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $4`,
		chatID, beforeAt, beforeID, limit,
	)
	if err != nil {
		return nil, pgErr("msgRepo.ListMessages query", err)
	}
	return collectMessages(rows, limit, "msgRepo.ListMessages")
}

func (r *MessageRepository) LastMessage(ctx context.Context, chatID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.LastMessage", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+msgCols+`
		 FROM messages m
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT 1`, chatID,
	), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pgErr("msgRepo.LastMessage", err)
	}
	return m, nil
}

// SearchMessages finds messages in a user's chats whose content contains query,
// case-insensitively and literally (no LIKE wildcards). If chatID is not empty, limits to that chat.
func (r *MessageRepository) SearchMessages(ctx context.Context, userID, query string, limit int, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.SearchMessages", time.Now())()
	sql := `SELECT ` + msgCols + `
		 FROM messages m
		 JOIN chat_members cm ON cm.chat_id = m.chat_id AND cm.user_id = $1
		 WHERE strpos(lower(m.content), lower($2)) > 0`
	args := []any{userID, query}
	if chatID != "" {
		sql += ` AND m.chat_id = $3`
		args = append(args, chatID)
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY m.created_at DESC, m.id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, pgErr("msgRepo.SearchMessages query", err)
	}
	return collectMessages(rows, limit, "msgRepo.SearchMessages")
}

func collectMessages(rows pgx.Rows, capacity int, op string) ([]model.Message, error) {
	defer rows.Close()
	msgs := make([]model.Message, 0, capacity)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, pgErr(op+" scan", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr(op+" rows", err)
	}
	return msgs, nil
}
