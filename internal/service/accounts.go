package service

import (
	"context"
	"strings"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

// Accounts is the account directory: profiles, presence and the moderation
// state other components consult before acting on a user's behalf.
type Accounts struct {
	store storage.Users
	rt    retrier
}

// EnsureUser creates the account on first authentication. Existing accounts
// keep their stored role and moderation state.
func (a *Accounts) EnsureUser(ctx context.Context, id, displayName string, role model.Role) (*model.User, error) {
	defer logger.DeferLogDuration("accounts.EnsureUser", time.Now())()
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Invalid("accounts.EnsureUser", "empty user id")
	}
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return nil, apperr.Invalid("accounts.EnsureUser", "unknown role %q", role)
	}
	u := &model.User{
		ID:          id,
		DisplayName: strings.TrimSpace(displayName),
		Role:        role,
		Moderation:  model.Moderation{State: model.ModerationNone},
	}
	return call(ctx, a.rt, "accounts.EnsureUser", func(ctx context.Context) (*model.User, error) {
		return a.store.EnsureUser(ctx, u)
	})
}

func (a *Accounts) GetUser(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("accounts.GetUser", time.Now())()
	return call(ctx, a.rt, "accounts.GetUser", func(ctx context.Context) (*model.User, error) {
		return a.store.GetUser(ctx, id)
	})
}

// SetOnline records presence and bumps last-seen.
func (a *Accounts) SetOnline(ctx context.Context, id string, online bool) error {
	defer logger.DeferLogDuration("accounts.SetOnline", time.Now())()
	return a.rt.do(ctx, "accounts.SetOnline", func(ctx context.Context) error {
		return a.store.SetOnline(ctx, id, online)
	})
}

// RequireActive returns the user unless the account is banned.
func (a *Accounts) RequireActive(ctx context.Context, id string) (*model.User, error) {
	u, err := a.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.IsBanned() {
		return nil, apperr.ErrUserBanned
	}
	return u, nil
}

// requireWriter additionally rejects restricted accounts; restriction blocks
// posting, editing and creating chats but not reading.
func (a *Accounts) requireWriter(ctx context.Context, id string) (*model.User, error) {
	u, err := a.RequireActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.IsRestricted() {
		return nil, apperr.ErrUserRestricted
	}
	return u, nil
}
