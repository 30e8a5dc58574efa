package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/threadflow/internal/model"
	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transcript() []model.Message {
	now := time.Now().UTC()
	return []model.Message{
		{ID: uuid.New(), Role: model.RoleUser, Content: "Hi", Timestamp: now},
		{ID: uuid.New(), Role: model.RoleAssistant, Content: "Hello!", Timestamp: now},
		{ID: uuid.New(), Role: model.RoleUser, Content: "Tell me a joke", Timestamp: now},
	}
}

func TestGenerate(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"Why did the "},{"type":"text","text":"chicken..."}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	text, err := New("key-123", srv.URL, 1024).Generate(context.Background(), "claude-3-5-haiku-20241022", transcript())
	require.NoError(t, err)
	assert.Equal(t, "Why did the chicken...", text)

	assert.Equal(t, "claude-3-5-haiku-20241022", got.Model)
	assert.Equal(t, 1024, got.MaxTokens)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, message{Role: "assistant", Content: "Hello!"}, got.Messages[1])
}

func TestGenerate_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	_, err := New("key-123", srv.URL, 1024).Generate(context.Background(), "claude-3-5-haiku-20241022", transcript())
	var perr *registryprovider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 529, perr.Status)
	assert.Equal(t, "Overloaded", perr.Message)
	assert.False(t, perr.Timeout)
}

func TestGenerate_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New("key-123", srv.URL, 1024).Generate(context.Background(), "claude-3-5-haiku-20241022", transcript())
	var perr *registryprovider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadGateway, perr.Status)
	assert.Equal(t, "bad gateway", perr.Message)
}

func TestGenerate_CancelledContextIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New("key-123", srv.URL, 1024).Generate(ctx, "claude-3-5-haiku-20241022", transcript())
	var perr *registryprovider.Error
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Timeout)
}
