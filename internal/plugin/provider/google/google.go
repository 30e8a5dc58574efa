package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/model"
	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const name = "google"

func init() {
	registryprovider.Register(registryprovider.Plugin{
		Name:   name,
		Loader: load,
	})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

var models = []registryprovider.ModelInfo{
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Description: "Fast multimodal model for everyday tasks"},
	{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash-Lite", Description: "Cost-efficient, low latency model"},
	{ID: "gemini-2.5-pro-exp-03-25", Name: "Gemini 2.5 Pro (experimental)", Description: "Google's most capable reasoning model"},
}

func load(ctx context.Context) (registryprovider.Provider, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("google provider: missing config")
	}
	return New(ctx, cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.ProviderMaxTokens)
}

// Provider calls Gemini through the generative-ai-go SDK. One client, and so
// one gRPC connection, is shared by every call.
type Provider struct {
	client    *genai.Client
	maxTokens int32
}

// New returns a provider. An empty apiKey yields an unavailable provider
// without a client.
func New(ctx context.Context, apiKey, baseURL string, maxTokens int) (*Provider, error) {
	p := &Provider{maxTokens: int32(maxTokens)}
	if apiKey == "" {
		return p, nil
	}
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithEndpoint(baseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google provider: %w", err)
	}
	p.client = client
	return p, nil
}

func (p *Provider) Name() string                         { return name }
func (p *Provider) Available() bool                      { return p.client != nil }
func (p *Provider) Models() []registryprovider.ModelInfo { return models }

// Close releases the client connection.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *Provider) Generate(ctx context.Context, modelID string, transcript []model.Message) (string, error) {
	history, last, err := splitTranscript(transcript)
	if err != nil {
		return "", &registryprovider.Error{Provider: name, Message: err.Error()}
	}

	if p.client == nil {
		return "", &registryprovider.Error{Provider: name, Message: "no API key configured", Unavailable: true}
	}

	gm := p.client.GenerativeModel(modelID)
	gm.SetMaxOutputTokens(p.maxTokens)
	session := gm.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return "", convertError(err)
	}
	text := responseText(resp)
	if text == "" {
		return "", &registryprovider.Error{Provider: name, Message: "response contained no text"}
	}
	return text, nil
}

// splitTranscript turns all but the last message into chat history. Gemini
// names the assistant role "model".
func splitTranscript(transcript []model.Message) ([]*genai.Content, string, error) {
	if len(transcript) == 0 {
		return nil, "", errors.New("empty transcript")
	}
	last := transcript[len(transcript)-1]
	if last.Role != model.RoleUser {
		return nil, "", errors.New("transcript must end with a user message")
	}
	history := make([]*genai.Content, 0, len(transcript)-1)
	for _, m := range transcript[:len(transcript)-1] {
		role := "user"
		if m.Role == model.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return history, last.Content, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

var grpcToHTTP = map[codes.Code]int{
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.NotFound:           http.StatusNotFound,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.FailedPrecondition: http.StatusBadRequest,
	codes.Internal:           http.StatusInternalServerError,
	codes.Unavailable:        http.StatusServiceUnavailable,
}

func convertError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &registryprovider.Error{Provider: name, Status: gerr.Code, Message: gerr.Message}
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		if st.Code() == codes.DeadlineExceeded || st.Code() == codes.Canceled {
			return &registryprovider.Error{Provider: name, Message: st.Message(), Timeout: true}
		}
		return &registryprovider.Error{Provider: name, Status: grpcToHTTP[st.Code()], Message: st.Message()}
	}
	return registryprovider.Wrap(name, err)
}
