// Package apperr is the error taxonomy shared by the services and the transport layer.
// Every failure a caller can act on carries a Kind and a stable Code.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindInvalidInput
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidInput:
		return "invalid_input"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	}
	return "internal"
}

// Stable reason codes
const (
	CodeTaskNotFound         = "TASK_NOT_FOUND"
	CodeChatNotFound         = "CHAT_NOT_FOUND"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeWorkspaceNotFound    = "WORKSPACE_NOT_FOUND"
	CodeNotAssigned          = "NOT_ASSIGNED"
	CodeNotWorkspaceMember   = "NOT_WORKSPACE_MEMBER"
	CodeInsufficientRole     = "INSUFFICIENT_ROLE"
	CodeUnauthenticated      = "UNAUTHENTICATED"
	CodeInvalidStatus        = "INVALID_STATUS"
	CodeValidation           = "VALIDATION_ERROR"
	CodeSessionAlreadyActive = "SESSION_ALREADY_ACTIVE"
	CodeNoActiveSession      = "NO_ACTIVE_SESSION"
	CodeTimerAlreadyRunning  = "TIMER_ALREADY_RUNNING"
	CodeVersionConflict      = "VERSION_CONFLICT"
	CodeAlreadyExists        = "ALREADY_EXISTS"
	CodeStoreUnavailable     = "STORE_UNAVAILABLE"
	CodeInternal             = "INTERNAL_SERVER_ERROR"
)

// Error is a classified failure with a human-readable message
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func Forbidden(code, message string) *Error {
	return New(KindForbidden, code, message)
}

func Invalid(code, message string) *Error {
	return New(KindInvalidInput, code, message)
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

// Transient wraps a store or transport failure
func Transient(message string, err error) *Error {
	return Wrap(KindTransient, CodeStoreUnavailable, message, err)
}

// As extracts an *Error from err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, KindInternal when unclassified
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of err, CodeInternal when unclassified
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}
