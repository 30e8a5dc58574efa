package mongo_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/model"
	"github.com/chirino/threadflow/internal/plugin/store/mongo"
	"github.com/chirino/threadflow/internal/plugin/store/storetest"
	registrymigrate "github.com/chirino/threadflow/internal/registry/migrate"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/chirino/threadflow/internal/testutil/testmongo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStore migrates and opens a store against its own database so sub-tests
// sharing one container do not see each other's data.
func newStore(t *testing.T, uri string, database string) (registrystore.ConversationStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "mongo"
	cfg.DBURL = testmongo.DatabaseURL(uri, database)
	ctx := config.WithContext(context.Background(), &cfg)

	// Ensure mongo store plugin is registered
	_ = mongo.ForceImport

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("mongo")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.(*mongo.MongoStore).Close(context.Background()) })
	return store, ctx
}

func TestMongoStore(t *testing.T) {
	uri := testmongo.StartMongo(t)

	var n atomic.Int64
	storetest.Run(t, func(t *testing.T) registrystore.ConversationStore {
		store, _ := newStore(t, uri, fmt.Sprintf("threadflow_%d", n.Add(1)))
		return store
	})
}

func TestMongoStore_MessageCountAndOrder(t *testing.T) {
	uri := testmongo.StartMongo(t)
	store, ctx := newStore(t, uri, "threadflow_counts")

	conv, err := store.CreateRoot(ctx, "erin", storetest.Message(model.RoleUser, "first"))
	require.NoError(t, err)
	_, err = store.Append(ctx, conv.ID, "erin", storetest.Pair("second", "third"))
	require.NoError(t, err)

	got, err := store.Get(ctx, conv.ID, "erin")
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "first", got.Messages[0].Content)
	assert.Equal(t, "third", got.Messages[2].Content)

	list, err := store.ListMetadata(ctx, "erin")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].MessageCount)
}

func TestMongoStore_DuplicateAppendIsConflict(t *testing.T) {
	uri := testmongo.StartMongo(t)
	store, ctx := newStore(t, uri, "threadflow_conflict")

	first := storetest.Message(model.RoleUser, "only once")
	conv, err := store.CreateRoot(ctx, "frank", first)
	require.NoError(t, err)

	_, err = store.Append(ctx, conv.ID, "frank", []model.Message{first})
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)

	got, err := store.Get(ctx, conv.ID, "frank")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
	assert.True(t, got.UpdatedAt.Equal(conv.UpdatedAt))
}
