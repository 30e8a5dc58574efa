// Package fakeprovider is a scriptable model provider for HTTP and BDD tests.
package fakeprovider

import (
	"context"
	"sync"

	"github.com/chirino/threadflow/internal/model"
	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
)

const (
	Name    = "fake"
	ModelID = "fake-1"
)

// Provider echoes the last user message unless a reply func is set.
type Provider struct {
	mu        sync.Mutex
	available bool
	reply     func(ctx context.Context, transcript []model.Message) (string, error)
	calls     [][]model.Message
}

func New() *Provider {
	return &Provider{available: true}
}

// Reply replaces the reply func. A nil func restores the echo.
func (p *Provider) Reply(fn func(ctx context.Context, transcript []model.Message) (string, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reply = fn
}

// SetAvailable toggles whether the provider reports credentials.
func (p *Provider) SetAvailable(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = v
}

// Calls returns the transcripts passed to Generate, oldest first.
func (p *Provider) Calls() [][]model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]model.Message(nil), p.calls...)
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *Provider) Models() []registryprovider.ModelInfo {
	return []registryprovider.ModelInfo{{ID: ModelID, Name: "Fake", Description: "Echoes the last message"}}
}

func (p *Provider) Generate(ctx context.Context, _ string, transcript []model.Message) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, transcript)
	reply := p.reply
	p.mu.Unlock()
	if reply != nil {
		return reply(ctx, transcript)
	}
	return "echo: " + transcript[len(transcript)-1].Content, nil
}

var _ registryprovider.Provider = (*Provider)(nil)
