package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/model"
	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	goopenai "github.com/sashabaranov/go-openai"
)

const name = "openai"

func init() {
	registryprovider.Register(registryprovider.Plugin{
		Name:   name,
		Loader: load,
	})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

var models = []registryprovider.ModelInfo{
	{ID: "gpt-4o", Name: "GPT-4o", Description: "OpenAI's flagship multimodal model"},
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", Description: "Fast, inexpensive model for everyday tasks"},
	{ID: "gpt-4.1", Name: "GPT-4.1", Description: "Long-context model tuned for instruction following"},
}

func load(ctx context.Context) (registryprovider.Provider, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("openai provider: missing config")
	}
	return New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ProviderMaxTokens), nil
}

// Provider calls the OpenAI chat completions API.
type Provider struct {
	client    *goopenai.Client
	available bool
	maxTokens int
}

// New returns a provider. An empty apiKey yields an unavailable provider.
func New(apiKey, baseURL string, maxTokens int) *Provider {
	clientCfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Provider{
		client:    goopenai.NewClientWithConfig(clientCfg),
		available: apiKey != "",
		maxTokens: maxTokens,
	}
}

func (p *Provider) Name() string                         { return name }
func (p *Provider) Available() bool                      { return p.available }
func (p *Provider) Models() []registryprovider.ModelInfo { return models }

func (p *Provider) Generate(ctx context.Context, modelID string, transcript []model.Message) (string, error) {
	messages := make([]goopenai.ChatCompletionMessage, len(transcript))
	for i, m := range transcript {
		role := goopenai.ChatMessageRoleUser
		if m.Role == model.RoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		messages[i] = goopenai.ChatCompletionMessage{Role: role, Content: m.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     modelID,
		Messages:  messages,
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return "", convertError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &registryprovider.Error{Provider: name, Message: "response contained no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

func convertError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &registryprovider.Error{Provider: name, Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &registryprovider.Error{Provider: name, Status: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return registryprovider.Wrap(name, err)
}
