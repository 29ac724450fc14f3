package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
)

func seed(t *testing.T, s *Store, users ...string) {
	t.Helper()
	for _, id := range users {
		if _, err := s.EnsureUser(context.Background(), &model.User{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCreateChat_DirectPairIsUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "a", "b")

	first := &model.Chat{ID: "c1", Kind: model.ChatKindDirect, MemberCap: 2, Participants: []string{"a", "b"}}
	if err := s.CreateChat(ctx, first); err != nil {
		t.Fatal(err)
	}
	dup := &model.Chat{ID: "c2", Kind: model.ChatKindDirect, MemberCap: 2, Participants: []string{"b", "a"}}
	if err := s.CreateChat(ctx, dup); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
	if err := s.CreateChat(ctx, first); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("same id: want conflict, got %v", err)
	}
	got, err := s.FindDirectChat(ctx, "b", "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "c1" {
		t.Fatalf("found %s", got.ID)
	}
}

func TestAppendMessage_MonotonicTimestamps(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewWithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	ctx := context.Background()
	if err := s.CreateChat(ctx, &model.Chat{ID: "g", Kind: model.ChatKindGroup, MemberCap: 5}); err != nil {
		t.Fatal(err)
	}
	var prev time.Time
	for i, id := range []string{"m1", "m2", "m3"} {
		if i == 1 {
			mu.Lock()
			now = now.Add(-time.Hour)
			mu.Unlock()
		}
		m := &model.Message{ID: id, ChatID: "g", SenderID: "a", Type: model.MessageTypeText}
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
		if !m.CreatedAt.After(prev) {
			t.Fatalf("%s at %v is not after %v", id, m.CreatedAt, prev)
		}
		prev = m.CreatedAt
	}
	chat, err := s.GetChat(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	if !chat.UpdatedAt.Equal(prev) {
		t.Fatalf("updated_at %v, last message %v", chat.UpdatedAt, prev)
	}
	if err := s.AppendMessage(ctx, &model.Message{ID: "m1", ChatID: "g"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate id: want conflict, got %v", err)
	}
}

func TestAddParticipant_Cap(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateChat(ctx, &model.Chat{ID: "g", Kind: model.ChatKindGroup, MemberCap: 2, Participants: []string{"a"}}); err != nil {
		t.Fatal(err)
	}
	if added, err := s.AddParticipant(ctx, "g", "b"); err != nil || !added {
		t.Fatalf("add b: %v %v", added, err)
	}
	if added, err := s.AddParticipant(ctx, "g", "b"); err != nil || added {
		t.Fatalf("re-add b: %v %v", added, err)
	}
	if _, err := s.AddParticipant(ctx, "g", "c"); !errors.Is(err, apperr.ErrChatFull) {
		t.Fatalf("want chat full, got %v", err)
	}
	chat, _ := s.GetChat(ctx, "g")
	if len(chat.Participants) != 2 {
		t.Fatalf("participants = %v", chat.Participants)
	}
}

func TestCursorAndUnread(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateChat(ctx, &model.Chat{ID: "g", Kind: model.ChatKindGroup, MemberCap: 5, Participants: []string{"a", "b"}}); err != nil {
		t.Fatal(err)
	}
	for _, m := range []*model.Message{
		{ID: "1", ChatID: "g", SenderID: "a"},
		{ID: "2", ChatID: "g", SenderID: "b"},
		{ID: "3", ChatID: "g", SenderID: "a"},
	} {
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := s.CountUnread(ctx, "g", "b"); n != 2 {
		t.Fatalf("unread b = %d", n)
	}
	m1, _ := s.GetMessage(ctx, "1")
	m3, _ := s.GetMessage(ctx, "3")
	if _, err := s.AdvanceCursor(ctx, "g", "b", &m3.CreatedAt); err != nil {
		t.Fatal(err)
	}
	cur, err := s.AdvanceCursor(ctx, "g", "b", &m1.CreatedAt)
	if err != nil {
		t.Fatal(err)
	}
	if !cur.LastReadAt.Equal(m3.CreatedAt) {
		t.Fatalf("cursor moved back to %v", cur.LastReadAt)
	}
	if n, _ := s.CountUnread(ctx, "g", "b"); n != 0 {
		t.Fatalf("unread b = %d", n)
	}
	if c, _ := s.GetCursor(ctx, "g", "a"); c != nil {
		t.Fatalf("unexpected cursor %+v", c)
	}
}

func TestDeleteUser_Tombstones(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "a", "b")
	if err := s.CreateChat(ctx, &model.Chat{ID: "g", Kind: model.ChatKindGroup, MemberCap: 5, Participants: []string{"a", "b"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage(ctx, &model.Message{ID: "1", ChatID: "g", SenderID: "b"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AdvanceCursor(ctx, "g", "b", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteUser(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	m, err := s.GetMessage(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if !m.SenderDeleted() {
		t.Fatalf("sender = %q", m.SenderID)
	}
	if ok, _ := s.IsParticipant(ctx, "g", "b"); ok {
		t.Fatal("still a participant")
	}
	if c, _ := s.GetCursor(ctx, "g", "b"); c != nil {
		t.Fatal("cursor kept")
	}
	if err := s.DeleteUser(ctx, "b"); !errors.Is(err, apperr.ErrUserNotFound) {
		t.Fatalf("want user not found, got %v", err)
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateChat(ctx, &model.Chat{ID: "g", Kind: model.ChatKindGroup, MemberCap: 5, Participants: []string{"a"}}); err != nil {
		t.Fatal(err)
	}
	chat, _ := s.GetChat(ctx, "g")
	chat.Participants[0] = "mallory"
	again, _ := s.GetChat(ctx, "g")
	if again.Participants[0] != "a" {
		t.Fatalf("store state leaked: %v", again.Participants)
	}
}
