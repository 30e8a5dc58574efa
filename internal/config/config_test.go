package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMongoDatabaseName_FromURLPath(t *testing.T) {
	cfg := Config{DBURL: "mongodb://mongo:27017/threadflow_dev?retryWrites=true"}
	require.Equal(t, "threadflow_dev", cfg.MongoDatabaseName())
}

func TestMongoDatabaseName_Fallback(t *testing.T) {
	cfg := Config{DBURL: "mongodb://localhost:27017"}
	require.Equal(t, "threadflow", cfg.MongoDatabaseName())

	cfg.DBURL = "mongodb://localhost:27017/"
	require.Equal(t, "threadflow", cfg.MongoDatabaseName())

	var nilCfg *Config
	require.Equal(t, "threadflow", nilCfg.MongoDatabaseName())
}

func TestDefaultConfig_ProviderDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "mongo", cfg.DatastoreType)
	require.Equal(t, 1024, cfg.ProviderMaxTokens)
	require.Equal(t, "google", cfg.DefaultProvider)
}
