// Package errs defines the structured error kinds surfaced by the API
// and used by services to decide retry behavior.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for API mapping and retry decisions.
type Kind string

const (
	KindInvalidInput     Kind = "INVALID_INPUT"
	KindNotFound         Kind = "NOT_FOUND"
	KindExpired          Kind = "EXPIRED"
	KindAlreadyProcessed Kind = "ALREADY_PROCESSED"
	KindCooldown         Kind = "COOLDOWN"
	KindDailyLimit       Kind = "DAILY_LIMIT"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindCapacity         Kind = "CAPACITY"
	KindTransient        Kind = "TRANSIENT"
)

// Error carries a kind, a user-facing message and, for cooldown
// rejections, the remaining wait time.
type Error struct {
	Kind    Kind
	Message string
	Wait    time.Duration
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Cooldown creates a COOLDOWN error carrying the remaining wait.
func Cooldown(wait time.Duration) *Error {
	return &Error{
		Kind:    KindCooldown,
		Message: fmt.Sprintf("try again in %d seconds", int(wait.Seconds())),
		Wait:    wait,
	}
}

// KindOf returns the Kind of err, or KindTransient for unclassified
// errors. Unclassified errors come from the store or the network, and
// retrying them is always safe because every write is idempotent.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
