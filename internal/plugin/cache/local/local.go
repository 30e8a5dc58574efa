// Package local provides an in-process metadata cache backed by ristretto.
// It is only coherent for a single service instance; use the redis cache
// when running more than one replica.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/model"
	registrycache "github.com/chirino/threadflow/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
)

const defaultMaxEntries = 10000

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrycache.MetadataCache, error) {
			cfg := config.FromContext(ctx)
			maxEntries := int64(defaultMaxEntries)
			ttl := 10 * time.Minute
			if cfg != nil {
				if cfg.LocalCacheMaxEntries > 0 {
					maxEntries = cfg.LocalCacheMaxEntries
				}
				if cfg.CacheTTL > 0 {
					ttl = cfg.CacheTTL
				}
			}
			return New(maxEntries, ttl)
		},
	})
}

// New creates a local cache holding at most maxEntries conversation lists.
func New(maxEntries int64, ttl time.Duration) (registrycache.MetadataCache, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	lists, err := ristretto.NewCache(&ristretto.Config[string, []model.ConversationMetadata]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &localMetadataCache{
		lists:       lists,
		generations: map[string]generationEntry{},
		ttl:         ttl,
		now:         time.Now,
	}, nil
}

// Generations live in a plain map: ristretto may drop or evict a write, and a
// lost Bump would let a stale list be served.
//
// Forgetting a generation only costs a miss, since the next Generation call
// mints a token no cached list carries. Bump therefore deletes the entry, and
// entries idle for longer than the list TTL are swept at most once per TTL.
type localMetadataCache struct {
	lists *ristretto.Cache[string, []model.ConversationMetadata]

	mu          sync.Mutex
	generations map[string]generationEntry
	lastSweep   time.Time

	ttl time.Duration
	now func() time.Time
}

type generationEntry struct {
	token   string
	touched time.Time
}

func listKey(ownerID, generation string) string {
	return ownerID + "\x00" + generation
}

func (c *localMetadataCache) Available() bool { return true }

func (c *localMetadataCache) Generation(_ context.Context, ownerID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweep(now)
	entry, ok := c.generations[ownerID]
	if !ok {
		entry.token = uuid.NewString()
	}
	entry.touched = now
	c.generations[ownerID] = entry
	return entry.token, nil
}

func (c *localMetadataCache) Bump(_ context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.generations, ownerID)
	return nil
}

// sweep drops generations untouched for a full TTL. Callers hold mu.
func (c *localMetadataCache) sweep(now time.Time) {
	if now.Sub(c.lastSweep) < c.ttl {
		return
	}
	c.lastSweep = now
	for owner, entry := range c.generations {
		if now.Sub(entry.touched) > c.ttl {
			delete(c.generations, owner)
		}
	}
}

func (c *localMetadataCache) Get(_ context.Context, ownerID, generation string) ([]model.ConversationMetadata, bool, error) {
	list, ok := c.lists.Get(listKey(ownerID, generation))
	if !ok {
		return nil, false, nil
	}
	return cloneList(list), true, nil
}

func (c *localMetadataCache) Set(_ context.Context, ownerID, generation string, list []model.ConversationMetadata, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.lists.SetWithTTL(listKey(ownerID, generation), cloneList(list), 1, ttl)
	c.lists.Wait()
	return nil
}

func cloneList(list []model.ConversationMetadata) []model.ConversationMetadata {
	if list == nil {
		return nil
	}
	out := make([]model.ConversationMetadata, len(list))
	copy(out, list)
	return out
}

var _ registrycache.MetadataCache = (*localMetadataCache)(nil)
