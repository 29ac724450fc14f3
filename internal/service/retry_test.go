package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/storage/memory"
)

// flakyStore fails chosen calls before or after committing them.
type flakyStore struct {
	*memory.Store
	appendLostReplies atomic.Int32 // commit, then report a transient failure
	getChatFailures   atomic.Int32
	getChatCalls      atomic.Int32
	slowUsers         atomic.Bool
	getUserErr        error
}

func (s *flakyStore) AppendMessage(ctx context.Context, m *model.Message) error {
	if err := s.Store.AppendMessage(ctx, m); err != nil {
		return err
	}
	if s.appendLostReplies.Add(-1) >= 0 {
		return fmt.Errorf("connection reset: %w", storage.ErrTransient)
	}
	return nil
}

func (s *flakyStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	s.getChatCalls.Add(1)
	if s.getChatFailures.Add(-1) >= 0 {
		return nil, storage.ErrTransient
	}
	return s.Store.GetChat(ctx, id)
}

func (s *flakyStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	if s.slowUsers.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.getUserErr != nil {
		return nil, s.getUserErr
	}
	return s.Store.GetUser(ctx, id)
}

func newFlakyCore(t *testing.T) (*Core, *flakyStore) {
	t.Helper()
	fs := &flakyStore{Store: memory.New()}
	opts := testOptions()
	opts.StorageTimeout = 20 * time.Millisecond
	return New(fs, memory.NewLocker(), opts), fs
}

func TestRetry_AppendAfterLostReplyIsNotDuplicated(t *testing.T) {
	c, fs := newFlakyCore(t)
	ctx := context.Background()
	mustUsers(t, c, "u1")
	chat := mustGroup(t, c, "u1", "g")

	fs.appendLostReplies.Store(1)
	m := mustSend(t, c, chat.ID, "u1", "once")
	page, err := c.Messages.ListForChat(ctx, chat.ID, "u1", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != m.ID {
		t.Fatalf("want one stored message, got %+v", page.Messages)
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	c, fs := newFlakyCore(t)
	mustUsers(t, c, "u1")
	chat := mustGroup(t, c, "u1", "g")

	fs.getChatCalls.Store(0)
	fs.getChatFailures.Store(2)
	if _, err := c.Directory.GetChat(context.Background(), chat.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	if n := fs.getChatCalls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestRetry_ExhaustedIsUnavailable(t *testing.T) {
	c, fs := newFlakyCore(t)
	mustUsers(t, c, "u1")
	chat := mustGroup(t, c, "u1", "g")

	fs.getChatCalls.Store(0)
	fs.getChatFailures.Store(100)
	_, err := c.Directory.GetChat(context.Background(), chat.ID, "u1")
	wantErr(t, err, apperr.ErrUnavailable)
	if !errors.Is(err, storage.ErrTransient) {
		t.Fatalf("cause lost: %v", err)
	}
	if n := fs.getChatCalls.Load(); n != int32(testOptions().RetryAttempts) {
		t.Fatalf("calls = %d", n)
	}
}

func TestRetry_AttemptDeadline(t *testing.T) {
	c, fs := newFlakyCore(t)
	mustUsers(t, c, "u1")
	fs.slowUsers.Store(true)

	start := time.Now()
	_, err := c.Accounts.GetUser(context.Background(), "u1")
	wantErr(t, err, apperr.ErrUnavailable)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline cause, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("retries took %v", elapsed)
	}
}

func TestRetry_CanceledCallerStops(t *testing.T) {
	c, fs := newFlakyCore(t)
	mustUsers(t, c, "u1")
	fs.slowUsers.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Accounts.GetUser(ctx, "u1")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestRetry_PermanentErrorsPassThrough(t *testing.T) {
	c, fs := newFlakyCore(t)
	boom := errors.New("boom")
	fs.getUserErr = boom

	_, err := c.Accounts.GetUser(context.Background(), "u1")
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("permanent error reported as unavailable")
	}

	fs.getUserErr = nil
	_, err = c.Accounts.GetUser(context.Background(), "ghost")
	wantErr(t, err, apperr.ErrUserNotFound)
}
