package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/chirino/threadflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name string
	ran  *[]string
	err  error
}

func (r recorder) Name() string { return r.name }
func (r recorder) Migrate(context.Context) error {
	*r.ran = append(*r.ran, r.name)
	return r.err
}

func withPlugins(t *testing.T, ps ...Plugin) {
	saved := plugins
	plugins = ps
	t.Cleanup(func() { plugins = saved })
}

func TestRunAll_SelectsConfiguredDatastore(t *testing.T) {
	var ran []string
	withPlugins(t,
		Plugin{Datastore: "postgres", Order: 20, Migrator: recorder{name: "pg-indexes", ran: &ran}},
		Plugin{Datastore: "mongo", Order: 10, Migrator: recorder{name: "mongo-schema", ran: &ran}},
		Plugin{Datastore: "postgres", Order: 10, Migrator: recorder{name: "pg-schema", ran: &ran}},
	)

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "postgres"
	require.NoError(t, RunAll(config.WithContext(context.Background(), &cfg)))
	assert.Equal(t, []string{"pg-schema", "pg-indexes"}, ran)
}

func TestRunAll_Disabled(t *testing.T) {
	var ran []string
	withPlugins(t, Plugin{Datastore: "mongo", Migrator: recorder{name: "mongo-schema", ran: &ran}})

	cfg := config.DefaultConfig()
	cfg.DatastoreMigrateAtStart = false
	require.NoError(t, RunAll(config.WithContext(context.Background(), &cfg)))
	require.NoError(t, RunAll(context.Background()))
	assert.Empty(t, ran)
}

func TestRunAll_WrapsFailure(t *testing.T) {
	var ran []string
	withPlugins(t, Plugin{Datastore: "mongo", Migrator: recorder{name: "mongo-schema", ran: &ran, err: errors.New("boom")}})

	cfg := config.DefaultConfig()
	err := RunAll(config.WithContext(context.Background(), &cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongo-schema")
}

func TestDatastores(t *testing.T) {
	var ran []string
	withPlugins(t,
		Plugin{Datastore: "postgres", Migrator: recorder{name: "a", ran: &ran}},
		Plugin{Datastore: "mongo", Migrator: recorder{name: "b", ran: &ran}},
		Plugin{Datastore: "postgres", Migrator: recorder{name: "c", ran: &ran}},
	)
	assert.Equal(t, []string{"mongo", "postgres"}, Datastores())
}
