package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/chirino/threadflow/internal/config"
)

// Migrator creates or upgrades the schema of one datastore.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin binds a migrator to the datastore kind it serves. Migrators of one
// datastore run in ascending Order.
type Plugin struct {
	Datastore string
	Order     int
	Migrator  Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// RunAll runs the migrators of the datastore configured in ctx. It does
// nothing when migrations at start are disabled or ctx carries no config.
func RunAll(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	for _, p := range forDatastore(cfg.DatastoreType) {
		log.Info("Running migration", "datastore", p.Datastore, "name", p.Migrator.Name())
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}

func forDatastore(kind string) []Plugin {
	var out []Plugin
	for _, p := range plugins {
		if p.Datastore == kind {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Datastores returns the sorted datastore kinds that have migrators.
func Datastores() []string {
	seen := map[string]bool{}
	var kinds []string
	for _, p := range plugins {
		if !seen[p.Datastore] {
			seen[p.Datastore] = true
			kinds = append(kinds, p.Datastore)
		}
	}
	sort.Strings(kinds)
	return kinds
}
