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

// Moderation is the admin-only facade. Each operation is one atomic write in
// the store.
type Moderation struct {
	store    storage.Store
	accounts *Accounts
	messages *Messages
	rt       retrier
}

func (m *Moderation) requireAdmin(ctx context.Context, callerID string) error {
	u, err := m.accounts.RequireActive(ctx, callerID)
	if err != nil {
		return err
	}
	if u.Role != model.RoleAdmin {
		return apperr.ErrForbidden
	}
	return nil
}

func (m *Moderation) BanUser(ctx context.Context, callerID, userID, reason string) error {
	defer logger.DeferLogDuration("moderation.BanUser", time.Now())()
	return m.setModeration(ctx, callerID, userID, model.ModerationBanned, reason)
}

func (m *Moderation) RestrictUser(ctx context.Context, callerID, userID, reason string) error {
	defer logger.DeferLogDuration("moderation.RestrictUser", time.Now())()
	return m.setModeration(ctx, callerID, userID, model.ModerationRestricted, reason)
}

// ClearModeration lifts a ban or restriction.
func (m *Moderation) ClearModeration(ctx context.Context, callerID, userID string) error {
	defer logger.DeferLogDuration("moderation.ClearModeration", time.Now())()
	return m.setModeration(ctx, callerID, userID, model.ModerationNone, "")
}

func (m *Moderation) setModeration(ctx context.Context, callerID, userID string, state model.ModerationState, reason string) error {
	if err := m.requireAdmin(ctx, callerID); err != nil {
		return err
	}
	if callerID == userID && state != model.ModerationNone {
		return apperr.ErrSameUser
	}
	mod := model.Moderation{State: state}
	if state != model.ModerationNone {
		at := time.Now().UTC()
		mod.Reason = strings.TrimSpace(reason)
		mod.At = &at
	}
	err := m.rt.do(ctx, "moderation.setModeration", func(ctx context.Context) error {
		return m.store.SetModeration(ctx, userID, mod)
	})
	if err != nil {
		return err
	}
	logger.Infof("moderation: %s set %s on %s", callerID, state, userID)
	return nil
}

func (m *Moderation) SetRole(ctx context.Context, callerID, userID string, role model.Role) error {
	defer logger.DeferLogDuration("moderation.SetRole", time.Now())()
	if !role.Valid() {
		return apperr.Invalid("moderation.SetRole", "unknown role %q", role)
	}
	if err := m.requireAdmin(ctx, callerID); err != nil {
		return err
	}
	err := m.rt.do(ctx, "moderation.SetRole", func(ctx context.Context) error {
		return m.store.SetRole(ctx, userID, role)
	})
	if err != nil {
		return err
	}
	logger.Infof("moderation: %s set role %s on %s", callerID, role, userID)
	return nil
}

// DeleteChat removes the chat with its messages, participants and cursors.
func (m *Moderation) DeleteChat(ctx context.Context, callerID, chatID string) error {
	defer logger.DeferLogDuration("moderation.DeleteChat", time.Now())()
	if err := m.requireAdmin(ctx, callerID); err != nil {
		return err
	}
	err := m.rt.do(ctx, "moderation.DeleteChat", func(ctx context.Context) error {
		return m.store.DeleteChat(ctx, chatID)
	})
	if err != nil {
		return err
	}
	logger.Infof("moderation: %s deleted chat %s", callerID, chatID)
	return nil
}

func (m *Moderation) DeleteMessage(ctx context.Context, callerID, messageID string) error {
	defer logger.DeferLogDuration("moderation.DeleteMessage", time.Now())()
	if err := m.requireAdmin(ctx, callerID); err != nil {
		return err
	}
	return m.messages.remove(ctx, messageID)
}

// DeleteUser removes the account from every chat, drops its cursors and
// tombstones the messages it wrote; other participants keep the history.
func (m *Moderation) DeleteUser(ctx context.Context, callerID, userID string) error {
	defer logger.DeferLogDuration("moderation.DeleteUser", time.Now())()
	if err := m.requireAdmin(ctx, callerID); err != nil {
		return err
	}
	if callerID == userID {
		return apperr.ErrSameUser
	}
	err := m.rt.do(ctx, "moderation.DeleteUser", func(ctx context.Context) error {
		return m.store.DeleteUser(ctx, userID)
	})
	if err != nil {
		return err
	}
	logger.Infof("moderation: %s deleted user %s", callerID, userID)
	return nil
}
