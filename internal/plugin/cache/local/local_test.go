package local

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/threadflow/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLocalCache_GenerationIsStableUntilBump(t *testing.T) {
	ctx := context.Background()
	c, err := New(100, time.Minute)
	require.NoError(t, err)

	g1, err := c.Generation(ctx, "alice")
	require.NoError(t, err)
	g2, err := c.Generation(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, g1, g2)

	require.NoError(t, c.Bump(ctx, "alice"))
	g3, err := c.Generation(ctx, "alice")
	require.NoError(t, err)
	require.NotEqual(t, g1, g3)

	other, err := c.Generation(ctx, "bob")
	require.NoError(t, err)
	require.NotEqual(t, g3, other)
}

func TestLocalCache_ListsAreScopedByGeneration(t *testing.T) {
	ctx := context.Background()
	c, err := New(100, time.Minute)
	require.NoError(t, err)

	gen, err := c.Generation(ctx, "alice")
	require.NoError(t, err)

	list := []model.ConversationMetadata{{ID: uuid.New(), OwnerID: "alice", Title: "hi"}}
	require.NoError(t, c.Set(ctx, "alice", gen, list, 0))

	got, ok, err := c.Get(ctx, "alice", gen)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, list, got)

	require.NoError(t, c.Bump(ctx, "alice"))
	next, err := c.Generation(ctx, "alice")
	require.NoError(t, err)

	_, ok, err = c.Get(ctx, "alice", next)
	require.NoError(t, err)
	require.False(t, ok, "a bumped generation must not see the previous list")
}

func TestLocalCache_IdleGenerationsAreForgotten(t *testing.T) {
	ctx := context.Background()
	mc, err := New(100, time.Minute)
	require.NoError(t, err)
	c := mc.(*localMetadataCache)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	for _, owner := range []string{"alice", "bob", "carol"} {
		_, err := c.Generation(ctx, owner)
		require.NoError(t, err)
	}
	require.NoError(t, c.Bump(ctx, "carol"))
	require.Len(t, c.generations, 2)

	clock = clock.Add(30 * time.Second)
	bob, err := c.Generation(ctx, "bob")
	require.NoError(t, err)

	clock = clock.Add(45 * time.Second)
	_, err = c.Generation(ctx, "dave")
	require.NoError(t, err)
	require.Len(t, c.generations, 2, "alice was idle for a full TTL")
	require.Contains(t, c.generations, "bob")

	again, err := c.Generation(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, bob, again)
}
