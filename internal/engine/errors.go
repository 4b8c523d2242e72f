package engine

import (
	"errors"
	"fmt"
)

// ErrAnonymous is returned when an action is performed by a user the
// remote store never identified.
var ErrAnonymous = errors.New("user is anonymous")

// ErrStopped is returned by Settle when the engine stopped before every
// pending operation resolved.
var ErrStopped = errors.New("engine stopped")

// RuntimeError reports a request the engine cannot act on.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Action names the action involved, if any.
	Action string

	// Subject is the subject entity ("proposal:12"), if any.
	Subject string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownAction indicates the action is not declared.
	ErrCodeUnknownAction RuntimeErrorCode = "UNKNOWN_ACTION"

	// ErrCodeInvalidSubject indicates the subject has the wrong kind or no
	// identity to address it with.
	ErrCodeInvalidSubject RuntimeErrorCode = "INVALID_SUBJECT"

	// ErrCodeUnknownKind indicates a fetch of an undeclared kind.
	ErrCodeUnknownKind RuntimeErrorCode = "UNKNOWN_KIND"

	// ErrCodeMalformedEvent indicates an event without its payload or of
	// an unknown type.
	ErrCodeMalformedEvent RuntimeErrorCode = "MALFORMED_EVENT"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Action != "" && e.Subject != "" {
		return fmt.Sprintf("%s: %s (action=%s, subject=%s)", e.Code, e.Message, e.Action, e.Subject)
	}
	if e.Action != "" {
		return fmt.Sprintf("%s: %s (action=%s)", e.Code, e.Message, e.Action)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnknownActionError reports whether err is an unknown action error.
// Uses errors.As to handle wrapped errors.
func IsUnknownActionError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeUnknownAction
}

// IsInvalidSubjectError reports whether err is an invalid subject error.
func IsInvalidSubjectError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeInvalidSubject
}

func newUnknownActionError(action string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownAction,
		Message: "action is not declared",
		Action:  action,
	}
}

func newInvalidSubjectError(action, subject, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidSubject,
		Message: fmt.Sprintf(format, args...),
		Action:  action,
		Subject: subject,
	}
}
