package bdd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chirino/threadflow/internal/cmd/serve"
	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/testutil/cucumber"
	"github.com/chirino/threadflow/internal/testutil/fakeprovider"
	"github.com/cucumber/godog"
	"github.com/stretchr/testify/require"

	// Import plugins to trigger init() registration
	_ "github.com/chirino/threadflow/internal/plugin/cache/local"
	_ "github.com/chirino/threadflow/internal/plugin/route/system"
	_ "github.com/chirino/threadflow/internal/plugin/store/memory"
)

// testConfig returns a testing-mode config that answers with the fake
// provider on a random port.
func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.DefaultProvider = fakeprovider.Name
	cfg.DefaultModelID = fakeprovider.ModelID
	cfg.ProviderTimeout = 2 * time.Second
	cfg.Listener.Port = 0
	cfg.Listener.EnableTLS = false
	return cfg
}

func TestFeatures(t *testing.T) {
	cfg := testConfig()
	cfg.DatastoreType = "memory"
	cfg.DatastoreMigrateAtStart = false
	cfg.CacheType = "local"
	runFeatures(t, &cfg, nil)
}

// runFeatures starts the server and runs every feature file under
// testdata/features as its own subtest.
func runFeatures(t *testing.T, cfg *config.Config, db cucumber.TestDB) {
	ctx := config.WithContext(context.Background(), cfg)

	srv, err := serve.StartServer(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	apiURL := fmt.Sprintf("http://localhost:%d", srv.Running.Port)

	featuresDir := filepath.Join("testdata", "features")
	if _, err := os.Stat(featuresDir); os.IsNotExist(err) {
		t.Skipf("Feature files directory not found: %s", featuresDir)
	}
	featureFiles, err := filepath.Glob(filepath.Join(featuresDir, "*.feature"))
	require.NoError(t, err)
	require.NotEmpty(t, featureFiles, "No feature files found in %s", featuresDir)

	opts := cucumber.DefaultOptions()
	for _, arg := range os.Args[1:] {
		if arg == "-test.v=true" || arg == "-test.v" || arg == "-v" {
			opts.Format = "pretty"
		}
	}

	for _, featurePath := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(featurePath), ".feature")
		t.Run(name, func(t *testing.T) {
			o := opts
			o.TestingT = t
			o.Paths = []string{featurePath}
			defer cucumber.ApplyReportOptions(&o, t.Name())()

			suite := cucumber.NewTestSuite()
			suite.APIURL = apiURL
			suite.TestingT = t
			suite.DB = db

			status := godog.TestSuite{
				Name:                name,
				Options:             &o,
				ScenarioInitializer: suite.InitializeScenario,
			}.Run()
			if status != 0 {
				t.Fail()
			}
		})
	}
}
