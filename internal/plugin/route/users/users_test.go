package users_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/model"
	"github.com/chirino/threadflow/internal/plugin/route/users"
	"github.com/chirino/threadflow/internal/plugin/store/memory"
	"github.com/chirino/threadflow/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsersMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.JWTSecret = "secret"
	store := memory.New()
	r := gin.New()
	users.MountRoutes(r, security.AuthMiddleware(security.NewIdentityResolver(security.NewTokenResolver(&cfg), store)))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "google-42",
		"email": "grace@example.com",
		"name":  "Grace",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var user model.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, "google-42", user.ID)
	require.NotNil(t, user.Email)
	assert.Equal(t, "grace@example.com", *user.Email)
	require.NotNil(t, user.DisplayName)
	assert.Equal(t, "Grace", *user.DisplayName)

	req = httptest.NewRequest(http.MethodGet, "/users/me", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
