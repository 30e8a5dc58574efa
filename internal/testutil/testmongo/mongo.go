// Package testmongo starts throwaway MongoDB servers for store and BDD tests.
package testmongo

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// StartMongo starts a disposable MongoDB container and returns its connection URI.
// The URI names no database; use DatabaseURL to address one.
func StartMongo(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping container test in short mode")
	}
	if t, ok := tb.(*testing.T); ok {
		testcontainers.SkipIfProviderIsNotHealthy(t)
	}

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	testcontainers.CleanupContainer(tb, container)
	require.NoError(tb, err, "start mongodb container")

	uri, err := container.ConnectionString(ctx)
	require.NoError(tb, err, "build mongodb connection string")
	return strings.TrimSuffix(uri, "/")
}

// DatabaseURL appends a database path to a URI returned by StartMongo,
// keeping any query string.
func DatabaseURL(uri, database string) string {
	base, query, found := strings.Cut(uri, "?")
	out := strings.TrimSuffix(base, "/") + "/" + database
	if found {
		out += "?" + query
	}
	return out
}
