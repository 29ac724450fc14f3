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

// chatCols loads the participant set with the row; order matches scanChat.
const chatCols = `c.id, c.kind, c.name, c.visibility, c.member_cap, COALESCE(c.created_by, ''), c.created_at, c.updated_at,
	COALESCE((SELECT array_agg(cm.user_id ORDER BY cm.user_id) FROM chat_members cm WHERE cm.chat_id = c.id), '{}')`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s scanner, c *model.Chat) error {
	return s.Scan(&c.ID, &c.Kind, &c.Name, &c.Visibility, &c.MemberCap, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt, &c.Participants)
}

// CreateChat inserts the chat and its initial participants in one transaction.
// A second direct chat for the same pair (or a second global room with the
// same name) violates a unique index and comes back as apperr.ErrConflict.
func (r *ChatRepository) CreateChat(ctx context.Context, c *model.Chat) error {
	defer logger.DeferLogDuration("chat.CreateChat", time.Now())()
	var directKey *string
	if c.Kind == model.ChatKindDirect {
		if len(c.Participants) != 2 {
			return apperr.ErrInvalidChatKind
		}
		key := model.DirectKey(c.Participants[0], c.Participants[1])
		directKey = &key
	}
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO chats (id, kind, name, visibility, member_cap, created_by, direct_key, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NOW(), NOW())
			 RETURNING created_at, updated_at`,
			c.ID, c.Kind, c.Name, c.Visibility, c.MemberCap, c.CreatedBy, directKey,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return err
		}
		for _, uid := range c.Participants {
			if _, err := tx.Exec(ctx,
				`INSERT INTO chat_members (chat_id, user_id, joined_at) VALUES ($1, $2, NOW())
				 ON CONFLICT DO NOTHING`,
				c.ID, uid,
			); err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return apperr.Wrap(apperr.ErrConflict, "chatRepo.CreateChat", err)
	case isForeignKeyViolation(err):
		return apperr.Wrap(apperr.ErrUserNotFound, "chatRepo.CreateChat", err)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return pgErr("chatRepo.CreateChat", err)
}

func (r *ChatRepository) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetChat", time.Now())()
	return r.getOne(ctx, "chatRepo.GetChat", `SELECT `+chatCols+` FROM chats c WHERE c.id = $1`, id)
}

func (r *ChatRepository) FindDirectChat(ctx context.Context, userA, userB string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindDirectChat", time.Now())()
	return r.getOne(ctx, "chatRepo.FindDirectChat",
		`SELECT `+chatCols+` FROM chats c WHERE c.direct_key = $1`, model.DirectKey(userA, userB))
}

func (r *ChatRepository) FindGlobalChat(ctx context.Context, name string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindGlobalChat", time.Now())()
	return r.getOne(ctx, "chatRepo.FindGlobalChat",
		`SELECT `+chatCols+` FROM chats c WHERE c.kind = 'global' AND c.name = $1`, name)
}

func (r *ChatRepository) getOne(ctx context.Context, op, query string, args ...any) (*model.Chat, error) {
	c := &model.Chat{}
	if err := scanChat(r.pool.QueryRow(ctx, query, args...), c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrChatNotFound
		}
		return nil, pgErr(op, err)
	}
	return c, nil
}

// AddParticipant locks the chat row so concurrent joins cannot both pass the
// cap check.
func (r *ChatRepository) AddParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.AddParticipant", time.Now())()
	var added bool
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var memberCap int
		if err := tx.QueryRow(ctx, `SELECT member_cap FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&memberCap); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrChatNotFound
			}
			return pgErr("chatRepo.AddParticipant lock", err)
		}
		var isMember bool
		var count int
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2),
			        (SELECT COUNT(*) FROM chat_members WHERE chat_id = $1)`,
			chatID, userID,
		).Scan(&isMember, &count); err != nil {
			return pgErr("chatRepo.AddParticipant count", err)
		}
		if isMember {
			return nil
		}
		if count >= memberCap {
			return apperr.ErrChatFull
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_members (chat_id, user_id, joined_at) VALUES ($1, $2, NOW())`,
			chatID, userID,
		); err != nil {
			if isForeignKeyViolation(err) {
				return apperr.Wrap(apperr.ErrUserNotFound, "chatRepo.AddParticipant", err)
			}
			return pgErr("chatRepo.AddParticipant", err)
		}
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (r *ChatRepository) RemoveParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.RemoveParticipant", time.Now())()
	if _, err := r.GetChat(ctx, chatID); err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM chat_members WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	)
	if err != nil {
		return false, pgErr("chatRepo.RemoveParticipant", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ChatRepository) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.IsParticipant", time.Now())()
	var chatExists, isMember bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chats WHERE id = $1),
		        EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&chatExists, &isMember)
	if err != nil {
		return false, pgErr("chatRepo.IsParticipant", err)
	}
	if !chatExists {
		return false, apperr.ErrChatNotFound
	}
	return isMember, nil
}

func (r *ChatRepository) ListUserChats(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.ListUserChats", time.Now())()
	return r.list(ctx, "chatRepo.ListUserChats",
		`SELECT `+chatCols+`
		 FROM chats c
		 JOIN chat_members me ON me.chat_id = c.id AND me.user_id = $1
		 WHERE c.kind <> 'global'
		 ORDER BY c.updated_at DESC, c.id DESC`, userID)
}

func (r *ChatRepository) ListGlobalChats(ctx context.Context) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.ListGlobalChats", time.Now())()
	return r.list(ctx, "chatRepo.ListGlobalChats",
		`SELECT `+chatCols+` FROM chats c WHERE c.kind = 'global' ORDER BY c.name`)
}

func (r *ChatRepository) list(ctx context.Context, op, query string, args ...any) ([]model.Chat, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgErr(op+" query", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, 16)
	for rows.Next() {
		var c model.Chat
		if err := scanChat(rows, &c); err != nil {
			return nil, pgErr(op+" scan", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr(op+" rows", err)
	}
	return chats, nil
}

// DeleteChat removes the chat and everything keyed by its id in one transaction.
func (r *ChatRepository) DeleteChat(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("chat.DeleteChat", time.Now())()
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrChatNotFound
			}
			return pgErr("chatRepo.DeleteChat lock", err)
		}
		for _, stmt := range []string{
			`DELETE FROM read_cursors WHERE chat_id = $1`,
			`DELETE FROM messages WHERE chat_id = $1`,
			`DELETE FROM chat_members WHERE chat_id = $1`,
			`DELETE FROM chats WHERE id = $1`,
		} {
			if _, err := tx.Exec(ctx, stmt, id); err != nil {
				return pgErr(fmt.Sprintf("chatRepo.DeleteChat %q", stmt), err)
			}
		}
		return nil
	})
}
