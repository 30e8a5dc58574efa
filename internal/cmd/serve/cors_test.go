package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corsRouter(origins string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(newCORSPolicy(origins).handler())
	router.GET("/models", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/chat", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestNewCORSPolicy_EmptyListAllowsAnyOrigin(t *testing.T) {
	p := newCORSPolicy(" , ")
	assert.True(t, p.allows("https://anywhere.example"))
	assert.False(t, p.allows(""))
}

func TestNewCORSPolicy_IgnoresTrailingSlash(t *testing.T) {
	p := newCORSPolicy("https://app.example.com/")
	assert.True(t, p.allows("https://app.example.com"))
	assert.False(t, p.allows("https://other.example.com"))
}

func TestCORS_SimpleRequestFromAllowedOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	corsRouter("https://app.example.com").ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Empty(t, rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	corsRouter("https://app.example.com, https://admin.example.com").ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_UnknownOriginGetsNoHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	corsRouter("https://app.example.com").ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	corsRouter("https://app.example.com").ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}
