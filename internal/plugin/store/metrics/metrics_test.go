package metrics

import (
	"context"
	"testing"

	"github.com/chirino/threadflow/internal/plugin/store/memory"
	"github.com/chirino/threadflow/internal/plugin/store/storetest"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrappedStoreBehavesLikeInner(t *testing.T) {
	storetest.Run(t, func(t *testing.T) registrystore.ConversationStore {
		return Wrap(memory.New())
	})
}

type closingStore struct {
	registrystore.ConversationStore
	closed int
}

func (c *closingStore) Close(context.Context) error {
	c.closed++
	return nil
}

func TestWrapForwardsClose(t *testing.T) {
	inner := &closingStore{ConversationStore: memory.New()}
	require.NoError(t, registrystore.Close(context.Background(), Wrap(inner)))
	assert.Equal(t, 1, inner.closed)

	require.NoError(t, registrystore.Close(context.Background(), Wrap(memory.New())))
}
