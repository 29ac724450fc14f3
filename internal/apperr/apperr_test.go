package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIs(t *testing.T) {
	if !errors.Is(ErrChatFull, ErrInvalidState) {
		t.Fatal("chat_full should be an invalid_state")
	}
	if errors.Is(ErrInvalidState, ErrChatFull) {
		t.Fatal("kind must not match a specific code")
	}
	if errors.Is(ErrChatFull, ErrSameUser) {
		t.Fatal("codes of one kind must not match each other")
	}
	wrapped := fmt.Errorf("outer: %w", Wrap(ErrNotOwner, "messages.Edit", nil))
	if !errors.Is(wrapped, ErrNotOwner) || !errors.Is(wrapped, ErrAccessDenied) {
		t.Fatalf("wrapped error lost its identity: %v", wrapped)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrUnavailable, "repo.GetChat", cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable")
	}
	if got := err.Error(); got != "repo.GetChat: unavailable: connection refused" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestKindAndCode(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
		code string
	}{
		{ErrMessageNotFound, KindNotFound, "message_not_found"},
		{ErrNotFound, KindNotFound, "not_found"},
		{Invalid("op", "bad %d", 1), KindInvalidState, "invalid_payload"},
		{fmt.Errorf("x: %w", ErrUserBanned), KindAccessDenied, "user_banned"},
		{errors.New("plain"), 0, ""},
	}
	for _, tc := range cases {
		if k := KindOf(tc.err); k != tc.kind {
			t.Fatalf("KindOf(%v) = %v, want %v", tc.err, k, tc.kind)
		}
		if c := CodeOf(tc.err); c != tc.code {
			t.Fatalf("CodeOf(%v) = %q, want %q", tc.err, c, tc.code)
		}
	}
}
