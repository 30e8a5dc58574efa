package provider

import (
	"context"
	"fmt"

	"github.com/chirino/threadflow/internal/model"
)

// ModelInfo describes one model a provider serves.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Provider generates assistant replies from a conversation transcript.
type Provider interface {
	// Name is the provider key clients send, e.g. "openai".
	Name() string
	// Available reports whether the provider has credentials configured.
	Available() bool
	// Models returns the static model catalog for the provider.
	Models() []ModelInfo
	// Generate returns the assistant text for the transcript. The last message
	// is the user turn being answered. Failures are *Error.
	Generate(ctx context.Context, modelID string, transcript []model.Message) (string, error)
}

// Loader creates a Provider from config.
type Loader func(ctx context.Context) (Provider, error)

// Plugin represents a model provider plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a provider plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered provider plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named provider plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown provider %q; valid: %v", name, Names())
}
