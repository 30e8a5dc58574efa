// Package migrate is the "threadflow migrate" command, which prepares a
// database ahead of a deployment that runs with --db-migrate-at-start=false.
package migrate

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/threadflow/internal/config"
	registrymigrate "github.com/chirino/threadflow/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	_ "github.com/chirino/threadflow/internal/plugin/store/mongo"
	_ "github.com/chirino/threadflow/internal/plugin/store/postgres"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the database schema, then exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("THREADFLOW_DB_KIND"),
				Destination: &cfg.DatastoreType,
				Value:       cfg.DatastoreType,
				Usage:       "Datastore to migrate (" + strings.Join(registrymigrate.Datastores(), "|") + ")",
			},
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("THREADFLOW_DB_URL"),
				Destination: &cfg.DBURL,
				Value:       cfg.DBURL,
				Usage:       "Database connection URL",
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			if err := cfg.ApplyEnvAliases(); err != nil {
				return err
			}
			if kinds := registrymigrate.Datastores(); !slices.Contains(kinds, cfg.DatastoreType) {
				return fmt.Errorf("no migrations for --db-kind %q; valid: %s", cfg.DatastoreType, strings.Join(kinds, "|"))
			}
			cfg.DatastoreMigrateAtStart = true

			log.Info("Running migrations", "db", cfg.DatastoreType)
			if err := registrymigrate.RunAll(config.WithContext(ctx, &cfg)); err != nil {
				return err
			}
			log.Info("Migrations complete", "db", cfg.DatastoreType)
			return nil
		},
	}
}
