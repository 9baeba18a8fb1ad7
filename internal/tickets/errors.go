package tickets

import (
	"errors"
	"fmt"
)

// Kind classifies lifecycle failures.
type Kind int

const (
	// KindPermissionDenied means the actor lacks a required role or holds a blacklisted one.
	KindPermissionDenied Kind = iota + 1
	// KindPrecondition means the ticket is in the wrong state, missing, or rate limited.
	KindPrecondition
	// KindNotFound means a platform entity could not be resolved.
	KindNotFound
	// KindTransient means a platform or store call failed.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindPrecondition:
		return "precondition_failed"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// CodeRateLimited marks a precondition failure caused by a cooldown window.
const CodeRateLimited = "rate_limited"

// Error is a lifecycle failure. Message is safe to show to the actor.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func permissionDenied(format string, args ...any) error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func precondition(format string, args ...any) error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

func rateLimited(format string, args ...any) error {
	return &Error{Kind: KindPrecondition, Code: CodeRateLimited, Message: fmt.Sprintf(format, args...)}
}

func notFound(err error, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...), Err: err}
}

func transient(err error, format string, args ...any) error {
	return &Error{Kind: KindTransient, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or 0 if err is not a lifecycle error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err is a lifecycle error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRateLimited reports whether err was caused by a cooldown window.
func IsRateLimited(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeRateLimited
}

// UserMessage returns the text to show the actor.
func (e *Error) UserMessage() string {
	return e.Message
}
