package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/threadflow/internal/config"
	"github.com/chirino/threadflow/internal/model"
	registrycache "github.com/chirino/threadflow/internal/registry/cache"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 10 * time.Minute
	// Generation tokens outlive cached lists so an expired token can only
	// produce misses, never revive an old entry.
	generationTTL = 24 * time.Hour
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.MetadataCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: THREADFLOW_REDIS_URL is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURLWithTTL creates a cache from a Redis-compatible URL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.MetadataCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisMetadataCache{client: client, ttl: ttl}, nil
}

type redisMetadataCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func generationKey(ownerID string) string {
	return fmt.Sprintf("conv-meta-gen:%s", ownerID)
}

func listKey(ownerID, generation string) string {
	return fmt.Sprintf("conv-meta:%s:%s", ownerID, generation)
}

func (c *redisMetadataCache) Available() bool {
	return true
}

func (c *redisMetadataCache) Generation(ctx context.Context, ownerID string) (string, error) {
	key := generationKey(ownerID)
	gen, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return gen, nil
	}
	if err != goredis.Nil {
		return "", err
	}
	// First reader installs a token; concurrent readers converge on whichever won.
	if err := c.client.SetNX(ctx, key, uuid.NewString(), generationTTL).Err(); err != nil {
		return "", err
	}
	return c.client.Get(ctx, key).Result()
}

func (c *redisMetadataCache) Bump(ctx context.Context, ownerID string) error {
	return c.client.Set(ctx, generationKey(ownerID), uuid.NewString(), generationTTL).Err()
}

func (c *redisMetadataCache) Get(ctx context.Context, ownerID, generation string) ([]model.ConversationMetadata, bool, error) {
	data, err := c.client.Get(ctx, listKey(ownerID, generation)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var list []model.ConversationMetadata
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, false, err
	}
	return list, true, nil
}

func (c *redisMetadataCache) Set(ctx context.Context, ownerID, generation string, list []model.ConversationMetadata, ttl time.Duration) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, listKey(ownerID, generation), data, ttl).Err()
}

var _ registrycache.MetadataCache = (*redisMetadataCache)(nil)
