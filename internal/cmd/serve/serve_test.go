package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/plugin/store/memory"
	storemetrics "github.com/chirino/threadflow/internal/plugin/store/metrics"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func TestMaxBodySizeMiddleware_EnforcesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/chat", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("0123456789"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("012"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3", rec.Body.String())
}

func TestMaxBodySizeMiddleware_ZeroDisablesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(0))
	router.POST("/chat", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", rec.Body.String())
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}

func TestApplyLogging(t *testing.T) {
	defer func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(log.TextFormatter)
	}()

	require.NoError(t, applyLogging("debug", "json"))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	require.NoError(t, applyLogging(" warn ", ""))
	assert.Equal(t, log.WarnLevel, log.GetLevel())
	require.Error(t, applyLogging("chatty", "text"))
	require.Error(t, applyLogging("info", "xml"))
}

func TestFlags_EnvironmentBinding(t *testing.T) {
	t.Setenv("THREADFLOW_DB_KIND", "postgres")
	t.Setenv("THREADFLOW_PROVIDER_TIMEOUT", "15s")
	t.Setenv("PORT", "9090")

	cfg := config.DefaultConfig()
	cmd := &cli.Command{Name: "serve", Flags: flags(&cfg), Action: func(context.Context, *cli.Command) error { return nil }}
	require.NoError(t, cmd.Run(context.Background(), []string{"serve", "--cache-kind", "local"}))

	assert.Equal(t, "postgres", cfg.DatastoreType)
	assert.Equal(t, 15*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 9090, cfg.Listener.Port)
	assert.Equal(t, "local", cfg.CacheType)
}

func TestStartServer_MemoryStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.DatastoreType = "memory"
	cfg.CacheType = "local"
	cfg.Listener.Port = 0
	cfg.GeminiAPIKey = ""
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	defer cancel()

	srv, err := StartServer(ctx, &cfg)
	require.NoError(t, err)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		require.NoError(t, srv.Shutdown(shutdownCtx))
	}()
	base := fmt.Sprintf("http://127.0.0.1:%d", srv.Running.Port)

	for path, status := range map[string]int{
		"/":              http.StatusOK,
		"/health":        http.StatusOK,
		"/ready":         http.StatusOK,
		"/metrics":       http.StatusOK,
		"/models":        http.StatusOK,
		"/conversations": http.StatusUnauthorized,
	} {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, status, resp.StatusCode, path)
	}

	// The default provider has no key configured, so the turn is refused
	// before anything is stored.
	req, err := http.NewRequest(http.MethodPost, base+"/chat", bytes.NewBufferString(`{"message":"Hello"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer alice")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "provider_unavailable", body["code"])

	list, err := srv.Store.ListMetadata(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

type closeRecorder struct {
	registrystore.ConversationStore
	closed bool
}

func (c *closeRecorder) Close(context.Context) error {
	c.closed = true
	return nil
}

func TestServerShutdown_ClosesStore(t *testing.T) {
	running, err := StartSinglePortHTTP(context.Background(), config.ListenerConfig{EnablePlainText: true}, http.NotFoundHandler())
	require.NoError(t, err)
	inner := &closeRecorder{ConversationStore: memory.New()}
	srv := &Server{Store: storemetrics.Wrap(inner), Running: running}

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.True(t, inner.closed)
}
