package store

import (
	"errors"
	"fmt"
)

// Error kinds. Every store error unwraps to one of these, so callers that
// only care about the kind can use errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid")
	ErrConflict  = errors.New("conflict")
)

// NotFoundError reports a conversation, message or user that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Resource, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports bad input. Field names the offending request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }
func (e *ValidationError) Unwrap() error { return ErrInvalid }

// ConflictError reports a write that clashes with stored state. Code is a
// machine readable reason such as "duplicate_message".
type ConflictError struct {
	Message string
	Code    string
}

func (e *ConflictError) Error() string { return e.Message }
func (e *ConflictError) Unwrap() error { return ErrConflict }

// ForbiddenError reports a conversation owned by someone other than the
// requester.
type ForbiddenError struct {
	Resource string
	ID       string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s %s belongs to another user", e.Resource, e.ID)
}
func (e *ForbiddenError) Unwrap() error { return ErrForbidden }
