package google

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chirino/threadflow/internal/model"
	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func msg(role model.Role, content string) model.Message {
	return model.Message{ID: uuid.New(), Role: role, Content: content, Timestamp: time.Now().UTC()}
}

func TestSplitTranscript(t *testing.T) {
	history, last, err := splitTranscript([]model.Message{
		msg(model.RoleUser, "Hi"),
		msg(model.RoleAssistant, "Hello!"),
		msg(model.RoleUser, "What's new?"),
	})
	require.NoError(t, err)
	assert.Equal(t, "What's new?", last)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
	assert.Equal(t, []genai.Part{genai.Text("Hello!")}, history[1].Parts)

	_, _, err = splitTranscript(nil)
	assert.Error(t, err)
	_, _, err = splitTranscript([]model.Message{msg(model.RoleAssistant, "dangling")})
	assert.Error(t, err)
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello, "), genai.Text("world")}},
	}}}
	assert.Equal(t, "Hello, world", responseText(resp))
	assert.Equal(t, "", responseText(nil))
	assert.Equal(t, "", responseText(&genai.GenerateContentResponse{}))
}

func TestConvertError(t *testing.T) {
	var perr *registryprovider.Error

	require.ErrorAs(t, convertError(&googleapi.Error{Code: 429, Message: "quota"}), &perr)
	assert.Equal(t, 429, perr.Status)
	assert.Equal(t, "quota", perr.Message)

	require.ErrorAs(t, convertError(status.Error(codes.PermissionDenied, "API key not valid")), &perr)
	assert.Equal(t, http.StatusForbidden, perr.Status)

	require.ErrorAs(t, convertError(status.Error(codes.DeadlineExceeded, "slow")), &perr)
	assert.True(t, perr.Timeout)

	require.ErrorAs(t, convertError(context.DeadlineExceeded), &perr)
	assert.True(t, perr.Timeout)

	require.ErrorAs(t, convertError(errors.New("boom")), &perr)
	assert.Equal(t, 0, perr.Status)
}

func TestAvailability(t *testing.T) {
	ctx := context.Background()

	unset, err := New(ctx, "", "", 1024)
	require.NoError(t, err)
	assert.False(t, unset.Available())
	assert.Equal(t, "gemini-2.0-flash", unset.Models()[0].ID)
	assert.NoError(t, unset.Close())

	_, err = unset.Generate(ctx, "gemini-2.0-flash", []model.Message{msg(model.RoleUser, "Hi")})
	var perr *registryprovider.Error
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Unavailable)

	configured, err := New(ctx, "key", "", 1024)
	require.NoError(t, err)
	assert.True(t, configured.Available())
	assert.NotNil(t, configured.client, "the client is built once at load time")
	assert.NoError(t, configured.Close())
}
