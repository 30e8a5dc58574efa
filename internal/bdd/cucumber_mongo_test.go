package bdd

import (
	"testing"

	"github.com/chirino/threadflow/internal/testutil/testmongo"

	_ "github.com/chirino/threadflow/internal/plugin/store/mongo"
)

func TestFeaturesMongo(t *testing.T) {
	dbURL := testmongo.DatabaseURL(testmongo.StartMongo(t), "threadflow_bdd")

	cfg := testConfig()
	cfg.DatastoreType = "mongo"
	cfg.DBURL = dbURL
	cfg.CacheType = "local"
	runFeatures(t, &cfg, &MongoTestDB{DBURL: dbURL})
}
