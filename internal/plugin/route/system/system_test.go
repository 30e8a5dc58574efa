package system

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	registryroute "github.com/chirino/threadflow/internal/registry/route"
	"github.com/chirino/threadflow/internal/testutil/fakeprovider"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func managementRouter(t *testing.T, catalog *registryprovider.Catalog) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NoError(t, mountWelcome(r, registryroute.Services{}))
	require.NoError(t, mountHealthChecks(r, registryroute.Services{Providers: catalog}))
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	fake := fakeprovider.New()
	r := managementRouter(t, registryprovider.NewCatalog(fake))

	rec := get(r, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = get(r, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ThreadFlow")

	ready.Store(false)
	t.Cleanup(func() { ready.Store(false) })
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/ready").Code)

	MarkReady()
	rec = get(r, "/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status    string   `json:"status"`
		Providers []string `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, []string{fakeprovider.Name}, body.Providers)

	fake.SetAvailable(false)
	assert.JSONEq(t, `{"status":"ready","providers":[]}`, get(r, "/ready").Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(managementRouter(t, nil), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}
