package store

import (
	"context"
	"fmt"

	"github.com/chirino/threadflow/internal/model"
	"github.com/google/uuid"
)

// ConversationStore persists users and conversations. Every conversation
// operation that takes a requesterID enforces ownership: a conversation that
// exists but is owned by someone else yields *ForbiddenError, an unknown one
// yields *NotFoundError.
//
// Implementations serialize writes per conversation id: Append is atomic, and
// Branch copies from a snapshot that never contains a partial Append.
type ConversationStore interface {
	// UpsertUser provisions the user on first sight and refreshes profile
	// fields that changed. Concurrent calls for one subject create one row.
	UpsertUser(ctx context.Context, profile model.UserProfile) (*model.User, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)

	// CreateRoot creates a conversation holding a single first message.
	CreateRoot(ctx context.Context, ownerID string, first model.Message) (*model.Conversation, error)
	// Append adds messages in order and advances updated_at.
	Append(ctx context.Context, conversationID uuid.UUID, requesterID string, messages []model.Message) (*model.Conversation, error)
	Get(ctx context.Context, conversationID uuid.UUID, requesterID string) (*model.Conversation, error)
	// ListMetadata returns the owner's conversations ordered by updated_at
	// descending, ties broken by id ascending.
	ListMetadata(ctx context.Context, ownerID string) ([]model.ConversationMetadata, error)

	// Branch creates a new conversation from the prefix of the source ending
	// at cutMessageID (inclusive).
	Branch(ctx context.Context, sourceID uuid.UUID, cutMessageID uuid.UUID, requesterID string) (*model.Conversation, error)
	// ListBranches returns the conversations branched from parentID, optionally
	// restricted to one branch point, ordered by created_at then id.
	ListBranches(ctx context.Context, parentID uuid.UUID, requesterID string, branchPointMessageID *uuid.UUID) ([]model.ConversationMetadata, error)
}

// Closer is implemented by stores that hold connections.
type Closer interface {
	Close(ctx context.Context) error
}

// Close releases s if it implements Closer.
func Close(ctx context.Context, s ConversationStore) error {
	if c, ok := s.(Closer); ok {
		return c.Close(ctx)
	}
	return nil
}

// Loader creates a ConversationStore from config.
type Loader func(ctx context.Context) (ConversationStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
