package security

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFormatter(log.LogfmtFormatter)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFormatter(log.TextFormatter)
	})
	return &buf
}

func TestAccessLogMiddleware_AssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	captureLog(t)
	var seen string
	router := gin.New()
	router.Use(AccessLogMiddleware())
	router.GET("/models", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	req.Header.Set(RequestIDHeader, "trace-42")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "trace-42", seen)
	assert.Equal(t, "trace-42", rec.Header().Get(RequestIDHeader))
}

func TestAccessLogMiddleware_LevelFollowsStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLog(t)
	router := gin.New()
	router.Use(AccessLogMiddleware("/health"))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/conversations/:id", func(c *gin.Context) {
		_ = c.Error(errors.New("store offline"))
		c.Status(http.StatusInternalServerError)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/conversations/abc", nil))
	out := buf.String()
	assert.Contains(t, out, "level=error")
	assert.Contains(t, out, "route=/conversations/:id")
	assert.Contains(t, out, "store offline")
}
