package middleware

import (
	"context"

	"github.com/chatcore/internal/model"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	RoleKey      contextKey = "role"
	SessionIDKey contextKey = "session_id"
)

// GetUserID возвращает user_id из контекста (устанавливается AuthServiceValidate или HeaderIdentity).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetRole возвращает роль, сохранённую в справочнике аккаунтов.
func GetRole(ctx context.Context) model.Role {
	v, _ := ctx.Value(RoleKey).(model.Role)
	return v
}

func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}

// WithIdentity кладёт в контекст пользователя и его роль.
func WithIdentity(ctx context.Context, u *model.User) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, u.ID)
	return context.WithValue(ctx, RoleKey, u.Role)
}
