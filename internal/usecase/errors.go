package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorMalformedEvent             ErrorCode = "MALFORMED_EVENT"
	ErrorMissingConversationContext ErrorCode = "MISSING_CONVERSATION_CONTEXT"
	ErrorStoreUnavailable           ErrorCode = "STORE_UNAVAILABLE"
	ErrorModelInvocation            ErrorCode = "MODEL_INVOCATION_ERROR"
	ErrorReplyDelivery              ErrorCode = "REPLY_DELIVERY_ERROR"
	ErrorInternal                   ErrorCode = "INTERNAL_ERROR"
)

// ErrMissingConversationContext is returned by ResolveConversationKey when the
// event carries no identity and no reply token.
var ErrMissingConversationContext = errors.New("usecase: event has no conversation context")

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Message returns the text reported to the caller: the underlying cause when
// there is one, otherwise the reason.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Reason
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
