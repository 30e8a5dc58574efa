package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/model"
	"github.com/chirino/threadflow/internal/plugin/store/postgres"
	"github.com/chirino/threadflow/internal/plugin/store/storetest"
	registrymigrate "github.com/chirino/threadflow/internal/registry/migrate"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/chirino/threadflow/internal/testutil/testpg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupTestStore(t *testing.T) (registrystore.ConversationStore, context.Context, *gorm.DB) {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "postgres"
	cfg.DBURL = dbURL
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	t.Cleanup(cancel)

	// Ensure postgres store plugin is registered
	_ = postgres.ForceImport

	err := registrymigrate.RunAll(ctx)
	require.NoError(t, err)

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dbURL), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return store, ctx, db
}

func TestPostgresStore(t *testing.T) {
	store, _, db := setupTestStore(t)

	var mu sync.Mutex
	storetest.Run(t, func(t *testing.T) registrystore.ConversationStore {
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, db.Exec("TRUNCATE messages, conversations, users").Error)
		return store
	})
}

func TestMigrationIsIdempotent(t *testing.T) {
	_, ctx, _ := setupTestStore(t)
	require.NoError(t, registrymigrate.RunAll(ctx))
}

func TestMessageCountTracksAppends(t *testing.T) {
	store, ctx, _ := setupTestStore(t)

	conv, err := store.CreateRoot(ctx, "carol", storetest.Message(model.RoleUser, "count me"))
	require.NoError(t, err)
	_, err = store.Append(ctx, conv.ID, "carol", storetest.Pair("again", "sure"))
	require.NoError(t, err)

	list, err := store.ListMetadata(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].MessageCount)
}

func TestTimestampsKeepMicroseconds(t *testing.T) {
	store, ctx, _ := setupTestStore(t)

	msg := storetest.Message(model.RoleUser, "precise")
	msg.Timestamp = time.Date(2025, 3, 4, 5, 6, 7, 123456789, time.UTC)
	conv, err := store.CreateRoot(ctx, "dave", msg)
	require.NoError(t, err)

	got, err := store.Get(ctx, conv.ID, "dave")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.True(t, got.Messages[0].Timestamp.Equal(time.Date(2025, 3, 4, 5, 6, 7, 123456000, time.UTC)))
	assert.True(t, got.UpdatedAt.Equal(conv.UpdatedAt))
}
