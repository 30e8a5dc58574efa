package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/threadflow/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Plugins register themselves in init().
	_ "github.com/chirino/threadflow/internal/plugin/cache/local"
	_ "github.com/chirino/threadflow/internal/plugin/cache/noop"
	_ "github.com/chirino/threadflow/internal/plugin/cache/redis"
	_ "github.com/chirino/threadflow/internal/plugin/provider/anthropic"
	_ "github.com/chirino/threadflow/internal/plugin/provider/google"
	_ "github.com/chirino/threadflow/internal/plugin/provider/openai"
	_ "github.com/chirino/threadflow/internal/plugin/route/chat"
	_ "github.com/chirino/threadflow/internal/plugin/route/conversations"
	_ "github.com/chirino/threadflow/internal/plugin/route/models"
	_ "github.com/chirino/threadflow/internal/plugin/route/system"
	_ "github.com/chirino/threadflow/internal/plugin/route/users"
	_ "github.com/chirino/threadflow/internal/plugin/store/memory"
	_ "github.com/chirino/threadflow/internal/plugin/store/mongo"
	_ "github.com/chirino/threadflow/internal/plugin/store/postgres"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the ThreadFlow HTTP server",
		Flags: flags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnvAliases(); err != nil {
				return err
			}
			if err := applyLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}
			if cfg.Mode != config.ModeProd && cfg.Mode != config.ModeTesting {
				return fmt.Errorf("invalid --mode %q; valid: %s|%s", cfg.Mode, config.ModeProd, config.ModeTesting)
			}
			if cfg.Mode == config.ModeTesting {
				log.Warn("Testing mode: bearer tokens that are not JWTs are accepted as user IDs")
			}
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), &cfg)
		},
	}
}

// run serves until ctx is cancelled, then drains for at most cfg.DrainTimeout.
func run(ctx context.Context, cfg *config.Config) error {
	srv, err := StartServer(ctx, cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...", "drainTimeout", cfg.DrainTimeout)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func applyLogging(level, format string) error {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	var formatter log.Formatter
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return fmt.Errorf("invalid --log-format %q; valid: text|json|logfmt", format)
	}
	log.SetLevel(lvl)
	log.SetFormatter(formatter)
	log.SetOutput(os.Stderr)
	return nil
}

// maxBodySizeMiddleware caps request bodies; reading past the limit fails
// with *http.MaxBytesError, which handlers report as 413.
func maxBodySizeMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
