package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/model"
	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
)

const (
	name       = "anthropic"
	apiVersion = "2023-06-01"
)

func init() {
	registryprovider.Register(registryprovider.Plugin{
		Name:   name,
		Loader: load,
	})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

var models = []registryprovider.ModelInfo{
	{ID: "claude-3-7-sonnet-20250219", Name: "Claude 3.7 Sonnet", Description: "Anthropic's most capable model with extended reasoning"},
	{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Description: "Balanced intelligence and speed"},
	{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", Description: "Fastest Claude model for lightweight tasks"},
}

func load(ctx context.Context) (registryprovider.Provider, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("anthropic provider: missing config")
	}
	return New(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, cfg.ProviderMaxTokens), nil
}

// Provider calls the Anthropic Messages API.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	maxTokens  int
}

// New returns a provider. An empty apiKey yields an unavailable provider.
func New(apiKey, baseURL string, maxTokens int) *Provider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &Provider{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxTokens:  maxTokens,
	}
}

func (p *Provider) Name() string                         { return name }
func (p *Provider) Available() bool                      { return p.apiKey != "" }
func (p *Provider) Models() []registryprovider.ModelInfo { return models }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) Generate(ctx context.Context, modelID string, transcript []model.Message) (string, error) {
	msgs := make([]message, len(transcript))
	for i, m := range transcript {
		msgs[i] = message{Role: string(m.Role), Content: m.Content}
	}
	body, err := json.Marshal(messagesRequest{Model: modelID, MaxTokens: p.maxTokens, Messages: msgs})
	if err != nil {
		return "", registryprovider.Wrap(name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", registryprovider.Wrap(name, err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", registryprovider.Wrap(name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", registryprovider.Wrap(name, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return "", &registryprovider.Error{Provider: name, Status: resp.StatusCode, Message: msg}
	}

	var result messagesResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &registryprovider.Error{Provider: name, Status: resp.StatusCode, Message: "parse response: " + err.Error()}
	}
	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", &registryprovider.Error{Provider: name, Status: resp.StatusCode, Message: "response contained no text"}
	}
	return text.String(), nil
}
