// Package apperr defines the error taxonomy shared by the services and the
// HTTP layer. Services return *Error values; handlers translate them into
// status codes and short client messages.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	Internal Kind = iota
	InvalidInput
	NotFound
	Conflict
	Unauthorized
	Forbidden
	PaymentRequired
	RateLimited
	Unavailable
)

var kindCodes = map[Kind]string{
	Internal:        "INTERNAL_ERROR",
	InvalidInput:    "INVALID_INPUT",
	NotFound:        "NOT_FOUND",
	Conflict:        "CONFLICT",
	Unauthorized:    "UNAUTHORIZED",
	Forbidden:       "FORBIDDEN",
	PaymentRequired: "PAYMENT_REQUIRED",
	RateLimited:     "RATE_LIMITED",
	Unavailable:     "SERVICE_UNAVAILABLE",
}

var kindStatus = map[Kind]int{
	Internal:        http.StatusInternalServerError,
	InvalidInput:    http.StatusBadRequest,
	NotFound:        http.StatusNotFound,
	Conflict:        http.StatusConflict,
	Unauthorized:    http.StatusUnauthorized,
	Forbidden:       http.StatusForbidden,
	PaymentRequired: http.StatusPaymentRequired,
	RateLimited:     http.StatusTooManyRequests,
	Unavailable:     http.StatusServiceUnavailable,
}

// Code returns the machine readable error code
func (k Kind) Code() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[Internal]
}

func (k Kind) String() string {
	return k.Code()
}

// Error is a classified error with a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	// Status overrides the kind's default HTTP status when non-zero.
	Status int
	// Fields are extra top-level members of the error body.
	Fields map[string]interface{}
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithStatus returns e with an explicit HTTP status.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithField attaches an extra body field.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// New creates a classified error
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a classified error around a cause. The cause is logged, never
// sent to the client.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies any error. Deadline and cancellation errors count as
// Unavailable; unclassified errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Unavailable
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	return kindStatus[KindOf(err)]
}

// MessageOf returns the client-safe message for err.
func MessageOf(err error) string {
	if e, ok := As(err); ok && e.Message != "" {
		return e.Message
	}
	switch KindOf(err) {
	case Unavailable:
		return "Service temporarily unavailable"
	default:
		return "Internal server error"
	}
}

// FieldsOf returns the extra body fields of err, if any.
func FieldsOf(err error) map[string]interface{} {
	if e, ok := As(err); ok {
		return e.Fields
	}
	return nil
}
