package service

import (
	"context"
	"testing"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
)

func TestModeration_RequiresAdmin(t *testing.T) {
	c := newTestCore(t, nil)
	ctx := context.Background()
	mustUser(t, c, "mod", model.RoleModerator)
	mustUsers(t, c, "u1")

	wantErr(t, c.Moderation.BanUser(ctx, "mod", "u1", ""), apperr.ErrForbidden)
	wantErr(t, c.Moderation.SetRole(ctx, "u1", "u1", model.RoleAdmin), apperr.ErrForbidden)
	wantErr(t, c.Moderation.DeleteUser(ctx, "mod", "u1"), apperr.ErrForbidden)
	wantErr(t, c.Moderation.DeleteChat(ctx, "u1", "any"), apperr.ErrForbidden)
}

func TestModeration_BanAndClear(t *testing.T) {
	c := newTestCore(t, nil)
	ctx := context.Background()
	mustUser(t, c, "admin", model.RoleAdmin)
	mustUsers(t, c, "u1", "u2")
	chat := mustGroup(t, c, "u1", "g", "u2")

	wantErr(t, c.Moderation.BanUser(ctx, "admin", "admin", ""), apperr.ErrSameUser)
	if err := c.Moderation.BanUser(ctx, "admin", "u1", " abuse "); err != nil {
		t.Fatal(err)
	}
	u, err := c.Accounts.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !u.IsBanned() || u.Moderation.Reason != "abuse" || u.Moderation.At == nil {
		t.Fatalf("moderation = %+v", u.Moderation)
	}
	_, err = c.Messages.ListForChat(ctx, chat.ID, "u1", 10, "")
	wantErr(t, err, apperr.ErrUserBanned)
	_, err = c.Reads.UnreadCount(ctx, chat.ID, "u1")
	wantErr(t, err, apperr.ErrUserBanned)
	_, err = c.Messages.Append(ctx, chat.ID, "u1", Payload{Content: "still here"})
	wantErr(t, err, apperr.ErrUserBanned)

	if err := c.Moderation.ClearModeration(ctx, "admin", "u1"); err != nil {
		t.Fatal(err)
	}
	u, err = c.Accounts.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Moderation.State != model.ModerationNone || u.Moderation.At != nil {
		t.Fatalf("moderation not cleared: %+v", u.Moderation)
	}
	mustSend(t, c, chat.ID, "u1", "back")

	wantErr(t, c.Moderation.BanUser(ctx, "admin", "ghost", ""), apperr.ErrUserNotFound)
	wantErr(t, c.Moderation.SetRole(ctx, "admin", "u1", "owner"), apperr.ErrInvalidPayload)
}

func TestModeration_DeleteUserKeepsHistory(t *testing.T) {
	c := newTestCore(t, nil)
	ctx := context.Background()
	mustUser(t, c, "admin", model.RoleAdmin)
	mustUsers(t, c, "u1", "u2")
	chat := mustGroup(t, c, "u1", "g", "u2")
	mustSend(t, c, chat.ID, "u2", "from u2")
	mustSend(t, c, chat.ID, "u1", "from u1")

	wantErr(t, c.Moderation.DeleteUser(ctx, "admin", "admin"), apperr.ErrSameUser)
	if err := c.Moderation.DeleteUser(ctx, "admin", "u2"); err != nil {
		t.Fatal(err)
	}
	_, err := c.Accounts.GetUser(ctx, "u2")
	wantErr(t, err, apperr.ErrUserNotFound)

	got, err := c.Directory.GetChat(ctx, chat.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.HasParticipant("u2") {
		t.Fatalf("deleted user still a participant")
	}
	page, err := c.Messages.ListForChat(ctx, chat.ID, "u1", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 2 || !page.Messages[0].SenderDeleted() || page.Messages[1].SenderID != "u1" {
		t.Fatalf("history = %+v", page.Messages)
	}
	// Tombstoned messages still count as someone else's.
	if n := unread(t, c, chat.ID, "u1"); n != 1 {
		t.Fatalf("unread = %d", n)
	}
}

func TestModeration_DeleteChatCascades(t *testing.T) {
	c := newTestCore(t, nil)
	ctx := context.Background()
	mustUser(t, c, "admin", model.RoleAdmin)
	mustUsers(t, c, "u1", "u2")

	direct, err := c.Directory.GetOrCreateDirectChat(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	m := mustSend(t, c, direct.ID, "u1", "hi")
	if err := c.Moderation.DeleteChat(ctx, "admin", direct.ID); err != nil {
		t.Fatal(err)
	}
	_, err = c.Directory.GetChat(ctx, direct.ID, "u1")
	wantErr(t, err, apperr.ErrChatNotFound)
	_, err = c.Messages.getMessage(ctx, m.ID)
	wantErr(t, err, apperr.ErrMessageNotFound)
	wantErr(t, c.Moderation.DeleteChat(ctx, "admin", direct.ID), apperr.ErrChatNotFound)

	// The pair is free again.
	fresh, err := c.Directory.GetOrCreateDirectChat(ctx, "u2", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ID == direct.ID {
		t.Fatalf("deleted chat came back")
	}
}

func TestModeration_DeleteMessageAndRole(t *testing.T) {
	c := newTestCore(t, nil)
	ctx := context.Background()
	mustUser(t, c, "admin", model.RoleAdmin)
	mustUsers(t, c, "u1", "u2")
	chat := mustGroup(t, c, "u1", "g")
	m := mustSend(t, c, chat.ID, "u1", "x")

	if err := c.Moderation.DeleteMessage(ctx, "admin", m.ID); err != nil {
		t.Fatal(err)
	}
	wantErr(t, c.Moderation.DeleteMessage(ctx, "admin", m.ID), apperr.ErrMessageNotFound)

	m = mustSend(t, c, chat.ID, "u1", "y")
	wantErr(t, c.Messages.Delete(ctx, m.ID, "u2"), apperr.ErrNotOwner)
	if err := c.Moderation.SetRole(ctx, "admin", "u2", model.RoleModerator); err != nil {
		t.Fatal(err)
	}
	if err := c.Messages.Delete(ctx, m.ID, "u2"); err != nil {
		t.Fatal(err)
	}
}
