package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds for crudql operations.
// Transports map kinds to status codes with errors.Is; anything that does
// not wrap one of these is an internal failure.
var (
	// ErrValidation indicates a malformed request: unknown or missing fields,
	// bad filter/sort syntax, out-of-range pagination.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthenticated indicates the caller presented no usable identity.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrForbidden indicates the caller's roles do not permit the action.
	ErrForbidden = errors.New("action not permitted")

	// ErrIncludeNotPermitted indicates a relation path is unregistered or
	// role-restricted for the caller.
	ErrIncludeNotPermitted = errors.New("include not permitted")

	// ErrNotFound indicates the identifier does not resolve to a record.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyDeleted indicates a soft delete was re-applied.
	ErrAlreadyDeleted = errors.New("record has already been deleted")

	// ErrConflict indicates a unique index would be violated.
	ErrConflict = errors.New("unique constraint violated")

	// ErrEntityNotRegistered indicates the requested entity name is unknown.
	ErrEntityNotRegistered = errors.New("entity not registered")

	// ErrInvalidConfig indicates a registration call was rejected.
	ErrInvalidConfig = errors.New("invalid entity configuration")
)

// Error carries a kind from the taxonomy above plus a user-facing message
// and, for field-level failures, the offending field names.
type Error struct {
	Kind    error
	Message string
	Fields  []string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

// Unwrap exposes the kind so errors.Is(err, ErrValidation) works.
func (e *Error) Unwrap() error {
	return e.Kind
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FieldError builds an *Error naming every offending field.
func FieldError(kind error, message string, fields ...string) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf("%s: %s", message, strings.Join(fields, ", ")),
		Fields:  fields,
	}
}

// Fields extracts the offending field names from err, if any.
func Fields(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// Known reports whether err belongs to the request-level taxonomy.
// Unknown errors are internal and must not be rewritten into a 4xx.
func Known(err error) bool {
	for _, kind := range []error{
		ErrValidation, ErrUnauthenticated, ErrForbidden, ErrIncludeNotPermitted,
		ErrNotFound, ErrAlreadyDeleted, ErrConflict, ErrEntityNotRegistered,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
