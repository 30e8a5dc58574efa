// Package storetest holds behaviour tests shared by every ConversationStore
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/chirino/threadflow/internal/model"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Factory returns an empty store for a single sub-test.
type Factory func(t *testing.T) registrystore.ConversationStore

// Message builds a message with a fresh id.
func Message(role model.Role, content string) model.Message {
	return model.Message{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// Pair builds a user message followed by its assistant reply.
func Pair(user, assistant string) []model.Message {
	return []model.Message{Message(model.RoleUser, user), Message(model.RoleAssistant, assistant)}
}

// Run executes the shared store behaviour tests against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("UpsertUser", func(t *testing.T) { testUpsertUser(t, newStore(t)) })
	t.Run("UpsertUserConcurrentFirstSight", func(t *testing.T) { testUpsertUserConcurrent(t, newStore(t)) })
	t.Run("CreateRootAndGet", func(t *testing.T) { testCreateRootAndGet(t, newStore(t)) })
	t.Run("GetOwnership", func(t *testing.T) { testGetOwnership(t, newStore(t)) })
	t.Run("Append", func(t *testing.T) { testAppend(t, newStore(t)) })
	t.Run("AppendByNonOwner", func(t *testing.T) { testAppendByNonOwner(t, newStore(t)) })
	t.Run("AppendValidation", func(t *testing.T) { testAppendValidation(t, newStore(t)) })
	t.Run("ConcurrentAppendsKeepPairs", func(t *testing.T) { testConcurrentAppends(t, newStore(t)) })
	t.Run("Branch", func(t *testing.T) { testBranch(t, newStore(t)) })
	t.Run("BranchFromFirstMessage", func(t *testing.T) { testBranchFromFirstMessage(t, newStore(t)) })
	t.Run("BranchUnknownMessage", func(t *testing.T) { testBranchUnknownMessage(t, newStore(t)) })
	t.Run("BranchMessageFromOtherConversation", func(t *testing.T) { testBranchMessageFromOtherConversation(t, newStore(t)) })
	t.Run("BranchByNonOwner", func(t *testing.T) { testBranchByNonOwner(t, newStore(t)) })
	t.Run("BranchDuringAppends", func(t *testing.T) { testBranchDuringAppends(t, newStore(t)) })
	t.Run("ListBranches", func(t *testing.T) { testListBranches(t, newStore(t)) })
	t.Run("ListMetadata", func(t *testing.T) { testListMetadata(t, newStore(t)) })
}

func requireNotFound(t *testing.T, err error) {
	t.Helper()
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func requireForbidden(t *testing.T, err error) {
	t.Helper()
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
}

func assertSameMessages(t *testing.T, expected, actual []model.Message) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		assert.Equal(t, expected[i].ID, actual[i].ID, "message %d id", i)
		assert.Equal(t, expected[i].Role, actual[i].Role, "message %d role", i)
		assert.Equal(t, expected[i].Content, actual[i].Content, "message %d content", i)
		assert.WithinDuration(t, expected[i].Timestamp, actual[i].Timestamp, time.Millisecond, "message %d timestamp", i)
	}
}

func testUpsertUser(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()

	_, err := s.GetUser(ctx, "alice")
	requireNotFound(t, err)

	u, err := s.UpsertUser(ctx, model.UserProfile{Subject: "alice", Email: "alice@example.com", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.ID)
	require.NotNil(t, u.Email)
	assert.Equal(t, "alice@example.com", *u.Email)
	assert.Nil(t, u.AvatarURL)
	created := u.CreatedAt

	// Empty claims keep the stored profile.
	u, err = s.UpsertUser(ctx, model.UserProfile{Subject: "alice"})
	require.NoError(t, err)
	require.NotNil(t, u.DisplayName)
	assert.Equal(t, "Alice", *u.DisplayName)

	u, err = s.UpsertUser(ctx, model.UserProfile{Subject: "alice", DisplayName: "Alice A.", AvatarURL: "https://img.example/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", *u.DisplayName)
	assert.Equal(t, "https://img.example/a.png", *u.AvatarURL)
	assert.Equal(t, "alice@example.com", *u.Email)
	assert.WithinDuration(t, created, u.CreatedAt, time.Millisecond)

	got, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", *got.DisplayName)
}

func testUpsertUserConcurrent(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := s.UpsertUser(ctx, model.UserProfile{Subject: "racer", Email: "racer@example.com"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	u, err := s.GetUser(ctx, "racer")
	require.NoError(t, err)
	assert.Equal(t, "racer", u.ID)
}

func testCreateRootAndGet(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	first := Message(model.RoleUser, "Hello there, this is a fairly long first message")

	conv, err := s.CreateRoot(ctx, "alice", first)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, conv.ID)
	assert.Equal(t, "alice", conv.OwnerID)
	assert.Equal(t, "Hello there, this is a fairly ...", conv.Title)
	assert.Nil(t, conv.ParentConversationID)
	assert.Nil(t, conv.BranchPointMessageID)
	assertSameMessages(t, []model.Message{first}, conv.Messages)

	got, err := s.Get(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, conv.Title, got.Title)
	assertSameMessages(t, []model.Message{first}, got.Messages)
}

func testGetOwnership(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	conv, err := s.CreateRoot(ctx, "alice", Message(model.RoleUser, "mine"))
	require.NoError(t, err)

	_, err = s.Get(ctx, conv.ID, "bob")
	requireForbidden(t, err)

	_, err = s.Get(ctx, uuid.New(), "alice")
	requireNotFound(t, err)
}

func testAppend(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	first := Message(model.RoleUser, "hi")
	conv, err := s.CreateRoot(ctx, "alice", first)
	require.NoError(t, err)

	reply := Message(model.RoleAssistant, "hello")
	updated, err := s.Append(ctx, conv.ID, "alice", []model.Message{reply})
	require.NoError(t, err)
	assertSameMessages(t, []model.Message{first, reply}, updated.Messages)
	assert.True(t, updated.UpdatedAt.After(conv.UpdatedAt), "updated_at must advance")

	pair := Pair("again", "sure")
	again, err := s.Append(ctx, conv.ID, "alice", pair)
	require.NoError(t, err)
	assertSameMessages(t, []model.Message{first, reply, pair[0], pair[1]}, again.Messages)
	assert.True(t, again.UpdatedAt.After(updated.UpdatedAt), "updated_at must advance")
	assert.Equal(t, conv.Title, again.Title)
	assert.WithinDuration(t, conv.CreatedAt, again.CreatedAt, time.Millisecond)

	_, err = s.Append(ctx, uuid.New(), "alice", Pair("x", "y"))
	requireNotFound(t, err)
}

func testAppendByNonOwner(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	first := Message(model.RoleUser, "private")
	conv, err := s.CreateRoot(ctx, "alice", first)
	require.NoError(t, err)

	_, err = s.Append(ctx, conv.ID, "bob", Pair("sneaky", "reply"))
	requireForbidden(t, err)

	got, err := s.Get(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assertSameMessages(t, []model.Message{first}, got.Messages)
}

func testAppendValidation(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	first := Message(model.RoleUser, "hi")
	conv, err := s.CreateRoot(ctx, "alice", first)
	require.NoError(t, err)

	var verr *registrystore.ValidationError
	_, err = s.Append(ctx, conv.ID, "alice", nil)
	require.ErrorAs(t, err, &verr)

	// A message id already in the transcript is rejected.
	dup := first
	_, err = s.Append(ctx, conv.ID, "alice", []model.Message{dup})
	require.Error(t, err)

	got, err := s.Get(ctx, conv.ID, "alice")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
}

func testConcurrentAppends(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	conv, err := s.CreateRoot(ctx, "alice", Message(model.RoleUser, "start"))
	require.NoError(t, err)

	const writers = 8
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := s.Append(ctx, conv.ID, "alice", Pair(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.Get(ctx, conv.ID, "alice")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1+2*writers)

	seen := map[string]bool{}
	for i := 1; i < len(got.Messages); i += 2 {
		q, a := got.Messages[i], got.Messages[i+1]
		require.Equal(t, model.RoleUser, q.Role)
		require.Equal(t, model.RoleAssistant, a.Role)
		require.Equal(t, "a"+q.Content[1:], a.Content, "pair split at position %d", i)
		seen[q.Content] = true
	}
	assert.Len(t, seen, writers)
}

func testBranch(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	first := Message(model.RoleUser, "Hello")
	parent, err := s.CreateRoot(ctx, "alice", first)
	require.NoError(t, err)
	parent, err = s.Append(ctx, parent.ID, "alice", append([]model.Message{Message(model.RoleAssistant, "Hi!")}, Pair("more", "even more")...))
	require.NoError(t, err)
	require.Len(t, parent.Messages, 4)

	cut := parent.Messages[1]
	child, err := s.Branch(ctx, parent.ID, cut.ID, "alice")
	require.NoError(t, err)

	assert.NotEqual(t, parent.ID, child.ID)
	assert.Equal(t, "alice", child.OwnerID)
	require.NotNil(t, child.ParentConversationID)
	assert.Equal(t, parent.ID, *child.ParentConversationID)
	require.NotNil(t, child.BranchPointMessageID)
	assert.Equal(t, cut.ID, *child.BranchPointMessageID)
	assert.Equal(t, "Branch from 'Hello...' @ msg 2", child.Title)
	assertSameMessages(t, parent.Messages[:2], child.Messages)

	// Later appends to either side stay local.
	_, err = s.Append(ctx, parent.ID, "alice", Pair("parent only", "ok"))
	require.NoError(t, err)
	childExtra := Message(model.RoleUser, "child only")
	_, err = s.Append(ctx, child.ID, "alice", []model.Message{childExtra})
	require.NoError(t, err)

	gotChild, err := s.Get(ctx, child.ID, "alice")
	require.NoError(t, err)
	assertSameMessages(t, append(append([]model.Message{}, parent.Messages[:2]...), childExtra), gotChild.Messages)

	gotParent, err := s.Get(ctx, parent.ID, "alice")
	require.NoError(t, err)
	require.Len(t, gotParent.Messages, 6)
	assertSameMessages(t, parent.Messages, gotParent.Messages[:4])
}

func testBranchFromFirstMessage(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	first := Message(model.RoleUser, "Hello")
	parent, err := s.CreateRoot(ctx, "alice", first)
	require.NoError(t, err)
	_, err = s.Append(ctx, parent.ID, "alice", []model.Message{Message(model.RoleAssistant, "Hi")})
	require.NoError(t, err)

	child, err := s.Branch(ctx, parent.ID, first.ID, "alice")
	require.NoError(t, err)
	assertSameMessages(t, []model.Message{first}, child.Messages)
}

func testBranchUnknownMessage(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	parent, err := s.CreateRoot(ctx, "alice", Message(model.RoleUser, "Hello"))
	require.NoError(t, err)

	_, err = s.Branch(ctx, parent.ID, uuid.New(), "alice")
	requireNotFound(t, err)

	list, err := s.ListMetadata(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1, "a failed branch must not create a conversation")

	_, err = s.Branch(ctx, uuid.New(), uuid.New(), "alice")
	requireNotFound(t, err)
}

func testBranchMessageFromOtherConversation(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	a, err := s.CreateRoot(ctx, "alice", Message(model.RoleUser, "one"))
	require.NoError(t, err)
	b, err := s.CreateRoot(ctx, "alice", Message(model.RoleUser, "two"))
	require.NoError(t, err)

	_, err = s.Branch(ctx, a.ID, b.Messages[0].ID, "alice")
	requireNotFound(t, err)
}

func testBranchByNonOwner(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	first := Message(model.RoleUser, "secret")
	parent, err := s.CreateRoot(ctx, "alice", first)
	require.NoError(t, err)

	_, err = s.Branch(ctx, parent.ID, first.ID, "mallory")
	requireForbidden(t, err)

	list, err := s.ListMetadata(ctx, "mallory")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testBranchDuringAppends(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	first := Message(model.RoleUser, "start")
	parent, err := s.CreateRoot(ctx, "alice", first)
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			_, err := s.Append(ctx, parent.ID, "alice", Pair(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
			return err
		})
		g.Go(func() error {
			child, err := s.Branch(ctx, parent.ID, first.ID, "alice")
			if err != nil {
				return err
			}
			if len(child.Messages) != 1 {
				return fmt.Errorf("branch at first message copied %d messages", len(child.Messages))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	branches, err := s.ListBranches(ctx, parent.ID, "alice", nil)
	require.NoError(t, err)
	assert.Len(t, branches, 4)
}

func testListBranches(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	first := Message(model.RoleUser, "Hello")
	parent, err := s.CreateRoot(ctx, "alice", first)
	require.NoError(t, err)
	reply := Message(model.RoleAssistant, "Hi")
	_, err = s.Append(ctx, parent.ID, "alice", []model.Message{reply})
	require.NoError(t, err)

	b1, err := s.Branch(ctx, parent.ID, reply.ID, "alice")
	require.NoError(t, err)
	b2, err := s.Branch(ctx, parent.ID, reply.ID, "alice")
	require.NoError(t, err)
	b3, err := s.Branch(ctx, parent.ID, first.ID, "alice")
	require.NoError(t, err)
	// A grandchild is not a direct branch of the parent.
	_, err = s.Branch(ctx, b1.ID, reply.ID, "alice")
	require.NoError(t, err)

	all, err := s.ListBranches(ctx, parent.ID, "alice", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{b1.ID, b2.ID, b3.ID}, metadataIDs(all))
	for _, m := range all {
		require.NotNil(t, m.ParentConversationID)
		assert.Equal(t, parent.ID, *m.ParentConversationID)
	}

	siblings, err := s.ListBranches(ctx, parent.ID, "alice", &reply.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{b1.ID, b2.ID}, metadataIDs(siblings))

	_, err = s.ListBranches(ctx, parent.ID, "bob", nil)
	requireForbidden(t, err)

	_, err = s.ListBranches(ctx, uuid.New(), "alice", nil)
	requireNotFound(t, err)
}

func testListMetadata(t *testing.T, s registrystore.ConversationStore) {
	ctx := context.Background()
	c1, err := s.CreateRoot(ctx, "alice", Message(model.RoleUser, "first"))
	require.NoError(t, err)
	c2, err := s.CreateRoot(ctx, "alice", Message(model.RoleUser, "second"))
	require.NoError(t, err)
	c3, err := s.CreateRoot(ctx, "alice", Message(model.RoleUser, "third"))
	require.NoError(t, err)
	_, err = s.CreateRoot(ctx, "bob", Message(model.RoleUser, "not yours"))
	require.NoError(t, err)

	// Touch the oldest so it becomes the most recent.
	time.Sleep(5 * time.Millisecond)
	_, err = s.Append(ctx, c1.ID, "alice", []model.Message{Message(model.RoleAssistant, "reply")})
	require.NoError(t, err)

	list, err := s.ListMetadata(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, c1.ID, list[0].ID)
	assert.Equal(t, 2, list[0].MessageCount)
	assert.ElementsMatch(t, []uuid.UUID{c1.ID, c2.ID, c3.ID}, metadataIDs(list))
	for _, m := range list {
		assert.Equal(t, "alice", m.OwnerID)
	}
	assert.True(t, sort.SliceIsSorted(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ID.String() < list[j].ID.String()
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	}))

	empty, err := s.ListMetadata(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func metadataIDs(list []model.ConversationMetadata) []uuid.UUID {
	ids := make([]uuid.UUID, len(list))
	for i, m := range list {
		ids[i] = m.ID
	}
	return ids
}
