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

// userCols: порядок соответствует scanUser.
const userCols = `id, display_name, role, moderation_state, moderation_reason, moderation_at, is_online, last_seen_at, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s scanner, u *model.User) error {
	return s.Scan(&u.ID, &u.DisplayName, &u.Role, &u.Moderation.State, &u.Moderation.Reason, &u.Moderation.At,
		&u.IsOnline, &u.LastSeenAt, &u.CreatedAt)
}

func (r *UserRepository) EnsureUser(ctx context.Context, u *model.User) (*model.User, error) {
	defer logger.DeferLogDuration("user.EnsureUser", time.Now())()
	role := u.Role
	if role == "" {
		role = model.RoleUser
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, display_name, role) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		u.ID, u.DisplayName, role,
	)
	if err != nil {
		return nil, pgErr("userRepo.EnsureUser", err)
	}
	return r.GetUser(ctx, u.ID)
}

func (r *UserRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetUser", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, pgErr("userRepo.GetUser", err)
	}
	return u, nil
}

func (r *UserRepository) SetOnline(ctx context.Context, id string, online bool) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1, last_seen_at = NOW() WHERE id = $2`,
		online, id,
	)
	if err != nil {
		return pgErr("userRepo.SetOnline", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) SetModeration(ctx context.Context, id string, m model.Moderation) error {
	defer logger.DeferLogDuration("user.SetModeration", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET moderation_state = $1, moderation_reason = $2, moderation_at = $3 WHERE id = $4`,
		m.State, m.Reason, m.At, id,
	)
	if err != nil {
		return pgErr("userRepo.SetModeration", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) SetRole(ctx context.Context, id string, role model.Role) error {
	defer logger.DeferLogDuration("user.SetRole", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role = $1 WHERE id = $2`, role, id)
	if err != nil {
		return pgErr("userRepo.SetRole", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

// DeleteUser tombstones authored messages (sender_id = NULL) so other
// participants keep the conversation, then drops memberships, cursors and the row.
func (r *UserRepository) DeleteUser(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("user.DeleteUser", time.Now())()
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrUserNotFound
			}
			return pgErr("userRepo.DeleteUser lock", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE messages SET sender_id = NULL WHERE sender_id = $1`, id); err != nil {
			return pgErr("userRepo.DeleteUser tombstone", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chat_members WHERE user_id = $1`, id); err != nil {
			return pgErr("userRepo.DeleteUser members", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM read_cursors WHERE user_id = $1`, id); err != nil {
			return pgErr("userRepo.DeleteUser cursors", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
			return pgErr("userRepo.DeleteUser", err)
		}
		return nil
	})
}

// ResetPresence marks every user offline; run at startup since no client is
// polling yet.
func (r *UserRepository) ResetPresence(ctx context.Context) error {
	defer logger.DeferLogDuration("user.ResetPresence", time.Now())()
	if _, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false WHERE is_online`); err != nil {
		return pgErr("userRepo.ResetPresence", err)
	}
	return nil
}
