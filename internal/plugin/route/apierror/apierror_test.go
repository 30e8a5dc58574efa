package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/chirino/threadflow/internal/security"
	"github.com/chirino/threadflow/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthenticated", fmt.Errorf("%w: bad token", security.ErrUnauthenticated), http.StatusUnauthorized, "unauthenticated"},
		{"not found", &registrystore.NotFoundError{Resource: "conversation", ID: "x"}, http.StatusNotFound, "not_found"},
		{"wrapped not found", fmt.Errorf("load: %w", &registrystore.NotFoundError{Resource: "message", ID: "m"}), http.StatusNotFound, "not_found"},
		{"forbidden", &registrystore.ForbiddenError{Resource: "conversation", ID: "x"}, http.StatusForbidden, "forbidden"},
		{"validation", &registrystore.ValidationError{Field: "message", Message: "must not be empty"}, http.StatusBadRequest, "validation_error"},
		{"conflict", &registrystore.ConflictError{Message: "dup", Code: "duplicate_message"}, http.StatusConflict, "duplicate_message"},
		{"provider", &registryprovider.Error{Provider: "openai", Status: 429, Message: "slow down"}, http.StatusBadGateway, "provider_error"},
		{"provider timeout", &registryprovider.Error{Provider: "openai", Timeout: true}, http.StatusGatewayTimeout, "provider_timeout"},
		{"provider unavailable", &registryprovider.Error{Provider: "openai", Unavailable: true}, http.StatusServiceUnavailable, "provider_unavailable"},
		{"unknown", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := Render(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRender_SubmitErrorCarriesRetryIDs(t *testing.T) {
	convID, msgID := uuid.New(), uuid.New()
	err := &service.SubmitError{
		ConversationID: convID,
		UserMessageID:  msgID,
		Err:            &registryprovider.Error{Provider: "google", Status: 500, Message: "boom"},
	}

	status, body := Render(err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, convID.String(), body["conversationId"])
	assert.Equal(t, msgID.String(), body["userMessageId"])
	assert.Equal(t, "google", body["provider"])
}

func TestWriteBind(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	WriteBind(c, &http.MaxBytesError{Limit: 4})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/chat", nil)
	WriteBind(c, errors.New("unexpected EOF"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}
