package errprocess

import (
	"context"
	"errors"
	"fmt"

	"chat_delivery_service/pkg/logger"
)

// Kind classifies every failure returned to a client.
type Kind string

// wire codes
const (
	KindValidation            Kind = "VALIDATION"
	KindAuth                  Kind = "AUTH"
	KindRateLimited           Kind = "RATE_LIMITED"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	KindConflict              Kind = "CONFLICT"
	KindNotFound              Kind = "NOT_FOUND"
	KindInternal              Kind = "INTERNAL"
)

// Error typed error carried up to the gateway ack
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind so callers can compare against the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrAuth        = &Error{Kind: KindAuth}
	ErrRateLimited = &Error{Kind: KindRateLimited}
	ErrUnavailable = &Error{Kind: KindDependencyUnavailable}
	ErrConflict    = &Error{Kind: KindConflict}
	ErrNotFound    = &Error{Kind: KindNotFound}
)

// Validation bad client input
func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Auth missing identity, non-member, blocked, or not the author
func Auth(format string, args ...interface{}) error {
	return &Error{Kind: KindAuth, Message: fmt.Sprintf(format, args...)}
}

// RateLimited window exhausted for the given action
func RateLimited(action string) error {
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded for " + action}
}

// Unavailable a collaborator timed out or failed
func Unavailable(msg string, cause error) error {
	return &Error{Kind: KindDependencyUnavailable, Message: msg, Cause: cause}
}

// Conflict state does not allow the transition
func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFound referenced entity does not exist
func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Internal unexpected failure, cause is logged but never sent to the client
func Internal(msg string, cause error) error {
	return &Error{Kind: KindInternal, Message: msg, Cause: cause}
}

// KindOf resolves the kind of any error. Context expiry counts as a dependency failure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindDependencyUnavailable
	}
	return KindInternal
}

// PublicMessage is the text safe to put on the wire.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	switch KindOf(err) {
	case KindDependencyUnavailable:
		return "dependency unavailable"
	default:
		return "internal error"
	}
}

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}
