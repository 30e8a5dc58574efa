package bdd

import (
	"context"

	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	"github.com/chirino/threadflow/internal/testutil/fakeprovider"
)

// Provider is the scriptable model provider shared by every feature run.
// Scenarios reset it in a Before hook, so features must not run concurrently.
var Provider = fakeprovider.New()

func init() {
	registryprovider.Register(registryprovider.Plugin{
		Name: fakeprovider.Name,
		Loader: func(ctx context.Context) (registryprovider.Provider, error) {
			return Provider, nil
		},
	})
}
