package redis

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/threadflow/internal/model"
	"github.com/chirino/threadflow/internal/testutil/testredis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GenerationRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := LoadFromURLWithTTL(ctx, testredis.StartRedis(t), time.Minute)
	require.NoError(t, err)
	require.True(t, c.Available())

	gen, err := c.Generation(ctx, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, gen)

	again, err := c.Generation(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, gen, again)

	_, ok, err := c.Get(ctx, "alice", gen)
	require.NoError(t, err)
	require.False(t, ok)

	id := uuid.New()
	require.NoError(t, c.Set(ctx, "alice", gen, []model.ConversationMetadata{{ID: id, OwnerID: "alice", Title: "t"}}, 0))

	list, ok, err := c.Get(ctx, "alice", gen)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, list, 1)
	require.Equal(t, id, list[0].ID)

	require.NoError(t, c.Bump(ctx, "alice"))
	bumped, err := c.Generation(ctx, "alice")
	require.NoError(t, err)
	require.NotEqual(t, gen, bumped)

	_, ok, err = c.Get(ctx, "alice", bumped)
	require.NoError(t, err)
	require.False(t, ok)
}
