package model

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// User is the canonical identity record for an external OAuth subject.
type User struct {
	ID          string    `json:"id"                     gorm:"primaryKey"`
	Email       *string   `json:"email,omitempty"`
	DisplayName *string   `json:"display_name,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"             gorm:"not null;default:now()"`
	UpdatedAt   time.Time `json:"updated_at"             gorm:"not null;default:now()"`
}

func (User) TableName() string { return "users" }

// UserProfile is the verified claim set used to provision or refresh a User.
// Empty optional fields leave the stored profile untouched.
type UserProfile struct {
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Message is a single immutable transcript item.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an ordered transcript plus its branch lineage.
type Conversation struct {
	ID                   uuid.UUID  `json:"id"`
	OwnerID              string     `json:"owner_id"`
	Title                string     `json:"title"`
	Messages             []Message  `json:"messages"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	ParentConversationID *uuid.UUID `json:"parent_conversation_id"`
	BranchPointMessageID *uuid.UUID `json:"branch_point_message_id"`
}

// IndexOfMessage returns the position of the message with the given id, or -1.
func (c *Conversation) IndexOfMessage(id uuid.UUID) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Metadata projects the conversation without its message bodies.
func (c *Conversation) Metadata() ConversationMetadata {
	return ConversationMetadata{
		ID:                   c.ID,
		OwnerID:              c.OwnerID,
		Title:                c.Title,
		MessageCount:         len(c.Messages),
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
		ParentConversationID: c.ParentConversationID,
		BranchPointMessageID: c.BranchPointMessageID,
	}
}

// ConversationMetadata is the list-view projection of a Conversation.
type ConversationMetadata struct {
	ID                   uuid.UUID  `json:"id"`
	OwnerID              string     `json:"owner_id"`
	Title                string     `json:"title"`
	MessageCount         int        `json:"message_count"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	ParentConversationID *uuid.UUID `json:"parent_conversation_id"`
	BranchPointMessageID *uuid.UUID `json:"branch_point_message_id"`
}

// NextUpdatedAt returns the updated_at value for a write happening at now on a
// record last updated at prev. The result is always strictly after prev, with
// step as the minimum advance for stores whose clock resolution is coarse.
func NextUpdatedAt(prev, now time.Time, step time.Duration) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(step)
}
