package provider

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
)

// Availability is the /models view of one provider.
type Availability struct {
	Available bool        `json:"available"`
	Models    []ModelInfo `json:"models"`
}

// Catalog holds the loaded providers in registration order.
type Catalog struct {
	order     []string
	providers map[string]Provider
}

// NewCatalog builds a catalog from already constructed providers.
func NewCatalog(providers ...Provider) *Catalog {
	c := &Catalog{providers: map[string]Provider{}}
	for _, p := range providers {
		if _, dup := c.providers[p.Name()]; !dup {
			c.order = append(c.order, p.Name())
		}
		c.providers[p.Name()] = p
	}
	return c
}

// LoadAll loads every registered provider plugin.
func LoadAll(ctx context.Context) (*Catalog, error) {
	loaded := make([]Provider, 0, len(plugins))
	for _, p := range plugins {
		prov, err := p.Loader(ctx)
		if err != nil {
			_ = NewCatalog(loaded...).Close()
			return nil, fmt.Errorf("load provider %s: %w", p.Name, err)
		}
		log.Info("Model provider loaded", "provider", prov.Name(), "available", prov.Available(), "models", len(prov.Models()))
		loaded = append(loaded, prov)
	}
	return NewCatalog(loaded...), nil
}

// Describe returns every provider's availability and models.
func (c *Catalog) Describe() map[string]Availability {
	out := make(map[string]Availability, len(c.order))
	for _, name := range c.order {
		p := c.providers[name]
		out[name] = Availability{Available: p.Available(), Models: p.Models()}
	}
	return out
}

// Resolve checks that the provider and model are known and that the provider
// is configured. Unknown names are validation errors; an unconfigured
// provider is an unavailable *Error.
func (c *Catalog) Resolve(name, modelID string) (Provider, error) {
	p, ok := c.providers[name]
	if !ok {
		return nil, &registrystore.ValidationError{Field: "provider", Message: fmt.Sprintf("invalid provider: %s", name)}
	}
	known := false
	for _, m := range p.Models() {
		if m.ID == modelID {
			known = true
			break
		}
	}
	if !known {
		return nil, &registrystore.ValidationError{Field: "modelId", Message: fmt.Sprintf("invalid model ID for provider %s: %s", name, modelID)}
	}
	if !p.Available() {
		return nil, &Error{Provider: name, Message: "no API key configured", Unavailable: true}
	}
	return p, nil
}

// Close releases providers that hold connections.
func (c *Catalog) Close() error {
	var errs []error
	for _, name := range c.order {
		if closer, ok := c.providers[name].(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}
