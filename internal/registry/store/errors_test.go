package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	wrapped := fmt.Errorf("append: %w", &ForbiddenError{Resource: "conversation", ID: "c-1"})
	assert.ErrorIs(t, wrapped, ErrForbidden)
	assert.NotErrorIs(t, wrapped, ErrNotFound)
	assert.EqualError(t, wrapped, "append: conversation c-1 belongs to another user")

	assert.ErrorIs(t, &NotFoundError{Resource: "message", ID: "m-1"}, ErrNotFound)
	assert.ErrorIs(t, &ValidationError{Field: "message", Message: "must not be empty"}, ErrInvalid)
	assert.ErrorIs(t, &ConflictError{Message: "dup", Code: "duplicate_message"}, ErrConflict)

	var conflict *ConflictError
	assert.True(t, errors.As(fmt.Errorf("x: %w", &ConflictError{Code: "duplicate_message"}), &conflict))
	assert.Equal(t, "duplicate_message", conflict.Code)
}
