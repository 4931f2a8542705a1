// Package apperror carries a {code, message} error taxonomy through the
// internal call stack so that the outermost dispatch layer can pick an
// exit code without every intermediate layer needing to know about
// transport concerns.
package apperror

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the error categories surfaced at the RPC boundary.
type Kind string

// Error kinds surfaced at the RPC boundary.
const (
	BadRequest      Kind = "BadRequest"
	Unauthorized    Kind = "Unauthorized"
	Forbidden       Kind = "Forbidden"
	NotFound        Kind = "NotFound"
	Conflict        Kind = "Conflict"
	RateLimited     Kind = "RateLimited"
	BadGateway      Kind = "BadGateway"
	GatewayTimeout  Kind = "GatewayTimeout"
	Internal        Kind = "Internal"
)

// httpStatus maps a Kind to its HTTP status code.
var httpStatus = map[Kind]int{
	BadRequest:     400,
	Unauthorized:   401,
	Forbidden:      403,
	NotFound:       404,
	Conflict:       409,
	RateLimited:    429,
	BadGateway:     502,
	GatewayTimeout: 504,
	Internal:       500,
}

// Error is the carrier type for the error taxonomy.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds; only meaningful for RateLimited.
	cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any, for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Status returns the exit code associated with this error's Kind.
func (e *Error) Status() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return 500
}

// New constructs an Error of the given Kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given Kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to an existing error while preserving it
// as the cause for errors.Is/As and for logging with a stack trace.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.WithStack(cause)}
}

// RateLimitedf constructs a RateLimited error carrying a Retry-After hint.
func RateLimitedf(retryAfterSeconds int, format string, args ...any) *Error {
	return &Error{
		Kind:       RateLimited,
		Message:    fmt.Sprintf(format, args...),
		RetryAfter: retryAfterSeconds,
	}
}

// As extracts an *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
