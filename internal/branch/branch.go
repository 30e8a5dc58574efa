// Package branch derives new conversations: fresh roots started by a first
// message, and branches copied from a prefix of an existing conversation.
//
// The functions here are pure. Stores call them while holding whatever
// per-conversation guarantee they provide, so the source passed to Derive is
// always a consistent snapshot.
package branch

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/chirino/threadflow/internal/model"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/google/uuid"
)

const (
	rootTitleLimit   = 30
	branchTitleLimit = 20
)

// RootTitle derives a conversation title from its first message: the first 30
// characters, with "..." appended when the content was longer.
func RootTitle(content string) string {
	return truncate(content, rootTitleLimit, "...")
}

// Title derives a branch title from the source title and the 0-based index of
// the cut message, for example "Branch from 'Trip planning...' @ msg 4".
func Title(sourceTitle string, cutIndex int) string {
	prefix, _ := cut(sourceTitle, branchTitleLimit)
	return fmt.Sprintf("Branch from '%s...' @ msg %d", prefix, cutIndex+1)
}

// NewRoot builds a root conversation holding a single first message.
func NewRoot(id uuid.UUID, ownerID string, first model.Message, now time.Time) *model.Conversation {
	return &model.Conversation{
		ID:        id,
		OwnerID:   ownerID,
		Title:     RootTitle(first.Content),
		Messages:  []model.Message{first},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Derive builds the branch of source cut at cutMessageID. The returned
// conversation shares no slices with source.
//
// It fails with *ForbiddenError when requesterID does not own the source and
// with *NotFoundError when the message is not part of the source transcript.
func Derive(source *model.Conversation, cutMessageID uuid.UUID, requesterID string, id uuid.UUID, now time.Time) (*model.Conversation, error) {
	if source.OwnerID != requesterID {
		return nil, &registrystore.ForbiddenError{Resource: "conversation", ID: source.ID.String()}
	}
	idx := source.IndexOfMessage(cutMessageID)
	if idx < 0 {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: cutMessageID.String()}
	}

	messages := make([]model.Message, idx+1)
	copy(messages, source.Messages[:idx+1])

	parentID := source.ID
	branchPoint := cutMessageID
	return &model.Conversation{
		ID:                   id,
		OwnerID:              source.OwnerID,
		Title:                Title(source.Title, idx),
		Messages:             messages,
		CreatedAt:            now,
		UpdatedAt:            now,
		ParentConversationID: &parentID,
		BranchPointMessageID: &branchPoint,
	}, nil
}

// ValidateMessages checks a batch of messages before it is appended.
func ValidateMessages(messages []model.Message) error {
	if len(messages) == 0 {
		return &registrystore.ValidationError{Field: "messages", Message: "at least one message is required"}
	}
	seen := make(map[uuid.UUID]bool, len(messages))
	for i, m := range messages {
		if m.ID == uuid.Nil {
			return &registrystore.ValidationError{Field: fmt.Sprintf("messages[%d].id", i), Message: "is required"}
		}
		if seen[m.ID] {
			return &registrystore.ValidationError{Field: fmt.Sprintf("messages[%d].id", i), Message: "is duplicated"}
		}
		seen[m.ID] = true
		if !m.Role.Valid() {
			return &registrystore.ValidationError{Field: fmt.Sprintf("messages[%d].role", i), Message: fmt.Sprintf("unknown role %q", m.Role)}
		}
	}
	return nil
}

// truncate cuts s to limit characters and appends suffix when anything was cut.
func truncate(s string, limit int, suffix string) string {
	prefix, cutAny := cut(s, limit)
	if cutAny {
		return prefix + suffix
	}
	return prefix
}

func cut(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}
