package noop

import (
	"context"
	"time"

	"github.com/chirino/threadflow/internal/model"
	"github.com/chirino/threadflow/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.MetadataCache, error) {
			return New(), nil
		},
	})
}

// New returns a cache that stores nothing.
func New() cache.MetadataCache { return &noopMetadataCache{} }

type noopMetadataCache struct{}

func (n *noopMetadataCache) Available() bool { return false }
func (n *noopMetadataCache) Generation(_ context.Context, _ string) (string, error) {
	return "", nil
}
func (n *noopMetadataCache) Bump(_ context.Context, _ string) error { return nil }
func (n *noopMetadataCache) Get(_ context.Context, _, _ string) ([]model.ConversationMetadata, bool, error) {
	return nil, false, nil
}
func (n *noopMetadataCache) Set(_ context.Context, _, _ string, _ []model.ConversationMetadata, _ time.Duration) error {
	return nil
}

var _ cache.MetadataCache = (*noopMetadataCache)(nil)
