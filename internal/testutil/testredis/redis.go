// Package testredis starts throwaway Redis servers for cache tests.
package testredis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartRedis starts a disposable Redis container and returns a redis:// URL
// for it. The container is removed when tb ends.
func StartRedis(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping container test in short mode")
	}
	if t, ok := tb.(*testing.T); ok {
		testcontainers.SkipIfProviderIsNotHealthy(t)
	}

	ctx := context.Background()
	container, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second)),
	)
	testcontainers.CleanupContainer(tb, container)
	require.NoError(tb, err, "start redis container")

	url, err := container.PortEndpoint(ctx, "6379/tcp", "redis")
	require.NoError(tb, err, "resolve redis endpoint")

	opts, err := redis.ParseURL(url)
	require.NoError(tb, err)
	client := redis.NewClient(opts)
	defer client.Close()
	require.NoError(tb, client.Ping(ctx).Err(), "ping redis")
	return url
}
