package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/threadflow/internal/model"
)

// MetadataCache caches per-owner conversation lists.
//
// Entries are addressed by (owner, generation). Generation returns the
// owner's current generation token and Bump replaces it, so a list cached
// under an older token is never served again once a write has bumped.
type MetadataCache interface {
	Available() bool
	Generation(ctx context.Context, ownerID string) (string, error)
	Bump(ctx context.Context, ownerID string) error
	// Get returns (nil, false, nil) on a miss.
	Get(ctx context.Context, ownerID, generation string) ([]model.ConversationMetadata, bool, error)
	Set(ctx context.Context, ownerID, generation string, list []model.ConversationMetadata, ttl time.Duration) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (MetadataCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
