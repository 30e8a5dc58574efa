// Package testpg starts throwaway Postgres servers for store and BDD tests.
package testpg

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// StartPostgres starts a disposable Postgres container and returns a DSN for
// an empty "threadflow" database. The container is removed when tb ends.
func StartPostgres(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping container test in short mode")
	}
	if t, ok := tb.(*testing.T); ok {
		testcontainers.SkipIfProviderIsNotHealthy(t)
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("threadflow"),
		postgres.WithUsername("threadflow"),
		postgres.WithPassword("threadflow"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(tb, container)
	require.NoError(tb, err, "start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(tb, err, "build postgres connection string")

	// The port can accept connections a moment before the server takes queries.
	require.Eventually(tb, func() bool { return ping(ctx, dsn) == nil }, 20*time.Second, 250*time.Millisecond,
		"postgres is not ready for connections")
	return dsn
}

func ping(ctx context.Context, dsn string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	return conn.Ping(ctx)
}
