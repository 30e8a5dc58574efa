package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/threadflow/internal/cmd/migrate"
	"github.com/chirino/threadflow/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:                  "threadflow",
		Usage:                 "Branching multi-provider AI chat backend",
		Version:               version,
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal("threadflow failed", "version", version, "err", err)
	}
}
