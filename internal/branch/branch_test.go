package branch

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chirino/threadflow/internal/model"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(role model.Role, content string) model.Message {
	return model.Message{ID: uuid.New(), Role: role, Content: content, Timestamp: time.Now().UTC()}
}

func source(owner string, n int) *model.Conversation {
	c := &model.Conversation{
		ID:        uuid.New(),
		OwnerID:   owner,
		Title:     "Planning a two week trip to Japan",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		c.Messages = append(c.Messages, msg(role, strings.Repeat("x", i+1)))
	}
	return c
}

func TestRootTitle(t *testing.T) {
	assert.Equal(t, "Hello", RootTitle("Hello"))
	assert.Equal(t, strings.Repeat("a", 30), RootTitle(strings.Repeat("a", 30)))
	assert.Equal(t, strings.Repeat("a", 30)+"...", RootTitle(strings.Repeat("a", 31)))
	// Multi-byte characters count as one.
	assert.Equal(t, strings.Repeat("é", 30)+"...", RootTitle(strings.Repeat("é", 40)))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Branch from 'Planning a two week ...' @ msg 4", Title("Planning a two week trip to Japan", 3))
	assert.Equal(t, "Branch from 'Hi...' @ msg 1", Title("Hi", 0))
}

func TestDerive_CopiesPrefixThroughCutMessage(t *testing.T) {
	src := source("alice", 6)
	cut := src.Messages[3]
	id := uuid.New()
	now := time.Now().UTC()

	child, err := Derive(src, cut.ID, "alice", id, now)
	require.NoError(t, err)

	assert.Equal(t, id, child.ID)
	assert.Equal(t, "alice", child.OwnerID)
	require.NotNil(t, child.ParentConversationID)
	assert.Equal(t, src.ID, *child.ParentConversationID)
	require.NotNil(t, child.BranchPointMessageID)
	assert.Equal(t, cut.ID, *child.BranchPointMessageID)
	assert.Equal(t, src.Messages[:4], child.Messages)
	assert.Equal(t, now, child.CreatedAt)
	assert.Equal(t, now, child.UpdatedAt)
	assert.Equal(t, "Branch from 'Planning a two week ...' @ msg 4", child.Title)
}

func TestDerive_IsIndependentOfSource(t *testing.T) {
	src := source("alice", 4)
	child, err := Derive(src, src.Messages[1].ID, "alice", uuid.New(), time.Now())
	require.NoError(t, err)

	src.Messages[0].Content = "mutated"
	src.Messages = append(src.Messages, msg(model.RoleUser, "later"))

	assert.Len(t, child.Messages, 2)
	assert.Equal(t, "x", child.Messages[0].Content)
}

func TestDerive_FirstMessage(t *testing.T) {
	src := source("alice", 3)
	child, err := Derive(src, src.Messages[0].ID, "alice", uuid.New(), time.Now())
	require.NoError(t, err)
	require.Len(t, child.Messages, 1)
	assert.Equal(t, src.Messages[0], child.Messages[0])
}

func TestDerive_Forbidden(t *testing.T) {
	src := source("alice", 2)
	_, err := Derive(src, src.Messages[0].ID, "mallory", uuid.New(), time.Now())
	var forbidden *registrystore.ForbiddenError
	require.True(t, errors.As(err, &forbidden))
}

func TestDerive_UnknownMessage(t *testing.T) {
	src := source("alice", 2)
	_, err := Derive(src, uuid.New(), "alice", uuid.New(), time.Now())
	var notFound *registrystore.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "message", notFound.Resource)
}

func TestNewRoot(t *testing.T) {
	first := msg(model.RoleUser, "Hello")
	now := time.Now().UTC()
	c := NewRoot(uuid.New(), "alice", first, now)
	assert.Equal(t, "Hello", c.Title)
	assert.Equal(t, []model.Message{first}, c.Messages)
	assert.Nil(t, c.ParentConversationID)
	assert.Nil(t, c.BranchPointMessageID)
	assert.Equal(t, now, c.UpdatedAt)
}

func TestValidateMessages(t *testing.T) {
	require.Error(t, ValidateMessages(nil))

	m := msg(model.RoleUser, "a")
	require.NoError(t, ValidateMessages([]model.Message{m}))

	var verr *registrystore.ValidationError
	require.ErrorAs(t, ValidateMessages([]model.Message{m, m}), &verr)

	bad := msg("system", "a")
	require.ErrorAs(t, ValidateMessages([]model.Message{bad}), &verr)
	assert.Equal(t, "messages[0].role", verr.Field)

	noID := msg(model.RoleUser, "a")
	noID.ID = uuid.Nil
	require.ErrorAs(t, ValidateMessages([]model.Message{noID}), &verr)
}
