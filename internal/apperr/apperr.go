// Package apperr holds the typed outcomes returned by the chat core.
// The HTTP layer maps Kind to a status; the core itself never builds
// user-facing text.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindNotFound Kind = iota + 1
	KindAccessDenied
	KindInvalidState
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindInvalidState:
		return "invalid_state"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Error is a typed outcome. Code narrows Kind (e.g. chat_full is an
// invalid_state). Op and Err are optional context for logs.
type Error struct {
	Kind Kind
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Code
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, and by Code when the target has one.
// errors.Is(ErrChatFull, ErrInvalidState) is true, the reverse is not.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Kind-level sentinels.
var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrAccessDenied = &Error{Kind: KindAccessDenied}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrConflict     = &Error{Kind: KindConflict, Code: "conflict"}
	ErrUnavailable  = &Error{Kind: KindUnavailable, Code: "unavailable"}
)

var (
	ErrChatNotFound    = &Error{Kind: KindNotFound, Code: "chat_not_found"}
	ErrMessageNotFound = &Error{Kind: KindNotFound, Code: "message_not_found"}
	ErrUserNotFound    = &Error{Kind: KindNotFound, Code: "user_not_found"}

	ErrNotParticipant = &Error{Kind: KindAccessDenied, Code: "not_participant"}
	ErrNotOwner       = &Error{Kind: KindAccessDenied, Code: "not_owner"}
	ErrForbidden      = &Error{Kind: KindAccessDenied, Code: "access_denied"}
	ErrUserBanned     = &Error{Kind: KindAccessDenied, Code: "user_banned"}
	ErrUserRestricted = &Error{Kind: KindAccessDenied, Code: "user_restricted"}

	ErrInvalidChatKind = &Error{Kind: KindInvalidState, Code: "invalid_chat_kind"}
	ErrSameUser        = &Error{Kind: KindInvalidState, Code: "same_user"}
	ErrChatFull        = &Error{Kind: KindInvalidState, Code: "chat_full"}
	ErrInvalidPayload  = &Error{Kind: KindInvalidState, Code: "invalid_payload"}
	ErrInvalidReply    = &Error{Kind: KindInvalidState, Code: "invalid_reply"}
)

// Wrap returns a copy of sentinel annotated with op and cause.
func Wrap(sentinel *Error, op string, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Op: op, Err: cause}
}

// Invalid returns an invalid_payload error carrying a short detail for logs.
func Invalid(op, format string, args ...any) *Error {
	return Wrap(ErrInvalidPayload, op, fmt.Errorf(format, args...))
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the most specific code in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Code != "" {
			return e.Code
		}
		return e.Kind.String()
	}
	return ""
}
