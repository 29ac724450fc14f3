package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/repository"
	"github.com/chatcore/internal/startup"
	"github.com/chatcore/migrations"
)

// openPool connects to TEST_DATABASE_URL and applies the schema; the tests
// use fresh uuids so they can share a database.
func openPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := startup.Migrate(ctx, pool, migrations.Files); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func openStore(t *testing.T) *repository.Store {
	t.Helper()
	s := repository.NewStore(openPool(t))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newUser(t *testing.T, s *repository.Store) string {
	t.Helper()
	id := "u-" + uuid.NewString()
	if _, err := s.EnsureUser(context.Background(), &model.User{ID: id, DisplayName: id, Role: model.RoleUser,
		Moderation: model.Moderation{State: model.ModerationNone}}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return id
}

func newGroup(t *testing.T, s *repository.Store, memberCap int, members ...string) *model.Chat {
	t.Helper()
	c := &model.Chat{ID: uuid.NewString(), Kind: model.ChatKindGroup, Name: "g", Visibility: model.VisibilityPrivate,
		MemberCap: memberCap, CreatedBy: members[0], Participants: members}
	if err := s.CreateChat(context.Background(), c); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return c
}

func appendText(t *testing.T, s *repository.Store, chatID, sender, text string) *model.Message {
	t.Helper()
	m := &model.Message{ID: uuid.NewString(), ChatID: chatID, SenderID: sender, Type: model.MessageTypeText, Content: &text}
	if err := s.AppendMessage(context.Background(), m); err != nil {
		t.Fatalf("append: %v", err)
	}
	return m
}

func TestDirectChatPairIsUnique(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a, b := newUser(t, s), newUser(t, s)

	const n = 16
	var g errgroup.Group
	created := make([]bool, n)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			pair := []string{a, b}
			if i%2 == 1 {
				pair = []string{b, a}
			}
			err := s.CreateChat(ctx, &model.Chat{ID: uuid.NewString(), Kind: model.ChatKindDirect,
				Visibility: model.VisibilityPrivate, MemberCap: 2, CreatedBy: pair[0], Participants: pair})
			if errors.Is(err, apperr.ErrConflict) {
				return nil
			}
			created[i] = err == nil
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	wins := 0
	for _, ok := range created {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("%d direct chats created for one pair", wins)
	}
	chat, err := s.FindDirectChat(ctx, b, a)
	if err != nil {
		t.Fatal(err)
	}
	if len(chat.Participants) != 2 {
		t.Fatalf("participants = %v", chat.Participants)
	}
}

func TestAddParticipantCap(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a, b, c := newUser(t, s), newUser(t, s), newUser(t, s)
	chat := newGroup(t, s, 2, a, b)

	if _, err := s.AddParticipant(ctx, chat.ID, c); !errors.Is(err, apperr.ErrChatFull) {
		t.Fatalf("want chat full, got %v", err)
	}
	if added, err := s.AddParticipant(ctx, chat.ID, b); err != nil || added {
		t.Fatalf("re-add: %v %v", added, err)
	}
	got, err := s.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Participants) != 2 {
		t.Fatalf("participants = %v", got.Participants)
	}
}

func TestMessagesOrderCursorAndUnread(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a, b := newUser(t, s), newUser(t, s)
	chat := newGroup(t, s, 10, a, b)

	m1 := appendText(t, s, chat.ID, a, "one")
	m2 := appendText(t, s, chat.ID, b, "two")
	m3 := appendText(t, s, chat.ID, a, "three")
	if !m2.CreatedAt.After(m1.CreatedAt) || !m3.CreatedAt.After(m2.CreatedAt) {
		t.Fatalf("timestamps not increasing")
	}
	dup := &model.Message{ID: m1.ID, ChatID: chat.ID, SenderID: a, Type: model.MessageTypeText}
	if err := s.AppendMessage(ctx, dup); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate id: want conflict, got %v", err)
	}

	page, err := s.ListMessages(ctx, chat.ID, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != m3.ID || page[1].ID != m2.ID {
		t.Fatalf("page = %+v", page)
	}
	older, err := s.ListMessages(ctx, chat.ID, 2, &model.PageCursor{At: m2.CreatedAt, ID: m2.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 1 || older[0].ID != m1.ID {
		t.Fatalf("older = %+v", older)
	}

	if n, err := s.CountUnread(ctx, chat.ID, b); err != nil || n != 2 {
		t.Fatalf("unread b = %d, %v", n, err)
	}
	if _, err := s.AdvanceCursor(ctx, chat.ID, b, &m3.CreatedAt); err != nil {
		t.Fatal(err)
	}
	cur, err := s.AdvanceCursor(ctx, chat.ID, b, &m1.CreatedAt)
	if err != nil {
		t.Fatal(err)
	}
	if !cur.LastReadAt.Equal(m3.CreatedAt) {
		t.Fatalf("cursor moved back to %v", cur.LastReadAt)
	}
	if n, _ := s.CountUnread(ctx, chat.ID, b); n != 0 {
		t.Fatalf("unread after read = %d", n)
	}

	last, err := s.LastMessage(ctx, chat.ID)
	if err != nil || last == nil || last.ID != m3.ID {
		t.Fatalf("last = %+v, %v", last, err)
	}
	found, err := s.SearchMessages(ctx, a, "THR", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != m3.ID {
		t.Fatalf("search = %+v", found)
	}
}

func TestDeleteUserTombstonesMessages(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a, b := newUser(t, s), newUser(t, s)
	chat := newGroup(t, s, 10, a, b)
	m := appendText(t, s, chat.ID, b, "bye")

	if err := s.DeleteUser(ctx, b); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.SenderDeleted() {
		t.Fatalf("sender = %q", got.SenderID)
	}
	if ok, _ := s.IsParticipant(ctx, chat.ID, b); ok {
		t.Fatal("deleted user still a participant")
	}
	if n, _ := s.CountUnread(ctx, chat.ID, a); n != 1 {
		t.Fatalf("unread a = %d", n)
	}
}

func TestDeleteChatCascades(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a := newUser(t, s)
	chat := newGroup(t, s, 10, a)
	m := appendText(t, s, chat.ID, a, "x")

	if err := s.DeleteChat(ctx, chat.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetMessage(ctx, m.ID); !errors.Is(err, apperr.ErrMessageNotFound) {
		t.Fatalf("message survived: %v", err)
	}
	if err := s.DeleteChat(ctx, chat.ID); !errors.Is(err, apperr.ErrChatNotFound) {
		t.Fatalf("want chat not found, got %v", err)
	}
}

func TestSearchMessagesIsLiteral(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a := newUser(t, s)
	chat := newGroup(t, s, 10, a)
	appendText(t, s, chat.ID, a, "price 500")
	pct := appendText(t, s, chat.ID, a, "discount 50% off")
	appendText(t, s, chat.ID, a, "axb")
	under := appendText(t, s, chat.ID, a, "A_B")

	for _, tc := range []struct {
		query string
		want  string
	}{
		{"50%", pct.ID},
		{"a_b", under.ID},
	} {
		found, err := s.SearchMessages(ctx, a, tc.query, 10, chat.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(found) != 1 || found[0].ID != tc.want {
			t.Fatalf("search %q = %+v", tc.query, found)
		}
	}
}

func TestAdvanceCursorWaitsForInFlightAppend(t *testing.T) {
	pool := openPool(t)
	s := repository.NewStore(pool)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	a, b := newUser(t, s), newUser(t, s)
	chat := newGroup(t, s, 10, a, b)

	// An append holds the chat row between stamping and commit.
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	var stamped time.Time
	if err := tx.QueryRow(ctx,
		`UPDATE chats SET last_message_at = clock_timestamp() WHERE id = $1 RETURNING last_message_at`,
		chat.ID).Scan(&stamped); err != nil {
		t.Fatal(err)
	}

	done := make(chan *model.ReadCursor, 1)
	go func() {
		cur, err := s.AdvanceCursor(ctx, chat.ID, b, nil)
		if err != nil {
			t.Error(err)
		}
		done <- cur
	}()
	select {
	case <-done:
		t.Fatal("cursor advanced past an uncommitted append")
	case <-time.After(200 * time.Millisecond):
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case cur := <-done:
		if cur == nil || cur.LastReadAt.Before(stamped) {
			t.Fatalf("cursor %+v is behind append at %v", cur, stamped)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cursor never advanced")
	}
}
