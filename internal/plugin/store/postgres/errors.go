package postgres

import (
	"errors"
	"fmt"

	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// insertMessagesError maps a failed message insert. uq_messages_conversation_message
// rejects a message id that is already in the conversation.
func insertMessagesError(op string, err error) error {
	if pgCode(err) == uniqueViolation {
		return &registrystore.ConflictError{Message: "message already exists in conversation", Code: "duplicate_message"}
	}
	return fmt.Errorf("failed to %s messages: %w", op, err)
}
