package serve

import (
	"strings"

	"github.com/chirino/threadflow/internal/config"
	registrycache "github.com/chirino/threadflow/internal/registry/cache"
	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/urfave/cli/v3"
)

const (
	catServer     = "Server:"
	catListener   = "Network Listener:"
	catManagement = "Management Network Listener:"
	catDatabase   = "Database:"
	catCache      = "Cache:"
	catProviders  = "Model Providers:"
	catAuth       = "Authorization:"
	catMonitoring = "Monitoring:"
)

// env binds a flag to THREADFLOW_<name> and then to any legacy names.
func env(name string, legacy ...string) cli.ValueSourceChain {
	return cli.EnvVars(append([]string{"THREADFLOW_" + name}, legacy...)...)
}

func flags(cfg *config.Config) []cli.Flag {
	var all []cli.Flag
	for _, group := range [][]cli.Flag{
		serverFlags(cfg),
		listenerFlags(cfg),
		databaseFlags(cfg),
		cacheFlags(cfg),
		providerFlags(cfg),
		authFlags(cfg),
	} {
		all = append(all, group...)
	}
	return all
}

func serverFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name: "mode", Category: catServer, Sources: env("MODE"),
			Destination: &cfg.Mode, Value: cfg.Mode,
			Usage: "Security mode (prod|testing); testing accepts a plain user ID as bearer token",
		},
		&cli.StringFlag{
			Name: "log-level", Category: catServer, Sources: env("LOG_LEVEL"),
			Destination: &cfg.LogLevel, Value: cfg.LogLevel,
			Usage: "Log level (debug|info|warn|error)",
		},
		&cli.StringFlag{
			Name: "log-format", Category: catServer, Sources: env("LOG_FORMAT"),
			Destination: &cfg.LogFormat, Value: cfg.LogFormat,
			Usage: "Log output format (text|json|logfmt)",
		},
		&cli.DurationFlag{
			Name: "drain-timeout", Category: catServer, Sources: env("DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout, Value: cfg.DrainTimeout,
			Usage: "Time allowed for in-flight requests to finish on shutdown",
		},
		&cli.Int64Flag{
			Name: "max-body-size", Category: catServer, Sources: env("MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize, Value: cfg.MaxBodySize,
			Usage: "Maximum request body size in bytes",
		},
		&cli.BoolFlag{
			Name: "management-access-log", Category: catServer, Sources: env("MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Also log requests to /health, /ready and /metrics",
		},
		&cli.BoolFlag{
			Name: "cors-enabled", Category: catServer, Sources: env("CORS_ENABLED"),
			Destination: &cfg.CORSEnabled, Value: cfg.CORSEnabled,
			Usage: "Answer browser cross-origin requests",
		},
		&cli.StringFlag{
			Name: "cors-origins", Category: catServer, Sources: env("CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins, Value: cfg.CORSOrigins,
			Usage: "Comma-separated allowed origins, or *",
		},
		&cli.StringFlag{
			Name: "metrics-labels", Category: catMonitoring, Sources: env("METRICS_LABELS"),
			Destination: &cfg.MetricsLabels, Value: cfg.MetricsLabels,
			Usage: "Comma-separated key=value constant labels for every Prometheus metric; values expand ${VAR}",
		},
	}
}

func listenerFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name: "port", Category: catListener, Sources: env("PORT", "PORT"),
			Destination: &cfg.Listener.Port, Value: cfg.Listener.Port,
			Usage: "HTTP server port",
		},
		&cli.BoolFlag{
			Name: "plain-text", Category: catListener, Sources: env("PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText, Value: cfg.Listener.EnablePlainText,
			Usage: "Serve plaintext HTTP/1.1 and h2c",
		},
		&cli.BoolFlag{
			Name: "tls", Category: catListener, Sources: env("TLS"),
			Destination: &cfg.Listener.EnableTLS, Value: cfg.Listener.EnableTLS,
			Usage: "Serve TLS on the same port; a self-signed certificate is used when no files are given",
		},
		&cli.StringFlag{
			Name: "tls-cert-file", Category: catListener, Sources: env("TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "PEM certificate for --tls",
		},
		&cli.StringFlag{
			Name: "tls-key-file", Category: catListener, Sources: env("TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "PEM private key for --tls",
		},
		&cli.DurationFlag{
			Name: "read-header-timeout", Category: catListener, Sources: env("READ_HEADER_TIMEOUT"),
			Destination: &cfg.Listener.ReadHeaderTimeout, Value: cfg.Listener.ReadHeaderTimeout,
			Usage: "Time allowed to read request headers",
		},
		&cli.IntFlag{
			Name: "management-port", Category: catManagement, Sources: env("MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port, Value: cfg.ManagementListener.Port,
			Usage: "Serve /health, /ready and /metrics on this port instead of the main one (0 picks a free port)",
		},
		&cli.BoolFlag{
			Name: "management-plain-text", Category: catManagement, Sources: env("MANAGEMENT_PLAIN_TEXT"),
			Destination: &cfg.ManagementListener.EnablePlainText, Value: cfg.ManagementListener.EnablePlainText,
			Usage: "Serve plaintext HTTP on the management port",
		},
		&cli.BoolFlag{
			Name: "management-tls", Category: catManagement, Sources: env("MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS, Value: cfg.ManagementListener.EnableTLS,
			Usage: "Serve TLS on the management port",
		},
	}
}

func databaseFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name: "db-kind", Category: catDatabase, Sources: env("DB_KIND"),
			Destination: &cfg.DatastoreType, Value: cfg.DatastoreType,
			Usage: "Conversation store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name: "db-url", Category: catDatabase, Sources: env("DB_URL"),
			Destination: &cfg.DBURL, Value: cfg.DBURL,
			Usage: "Database connection URL; for mongo the path names the database",
		},
		&cli.BoolFlag{
			Name: "db-migrate-at-start", Category: catDatabase, Sources: env("DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart, Value: cfg.DatastoreMigrateAtStart,
			Usage: "Create or update the schema on startup",
		},
		&cli.IntFlag{
			Name: "db-max-open-conns", Category: catDatabase, Sources: env("DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns, Value: cfg.DBMaxOpenConns,
			Usage: "Connection pool size",
		},
		&cli.IntFlag{
			Name: "db-max-idle-conns", Category: catDatabase, Sources: env("DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns, Value: cfg.DBMaxIdleConns,
			Usage: "Idle connections kept in the pool",
		},
	}
}

func cacheFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name: "cache-kind", Category: catCache, Sources: env("CACHE_KIND"),
			Destination: &cfg.CacheType, Value: cfg.CacheType,
			Usage: "Conversation list cache (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name: "redis-url", Category: catCache, Sources: env("REDIS_URL", "REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL for --cache-kind=redis",
		},
		&cli.DurationFlag{
			Name: "cache-ttl", Category: catCache, Sources: env("CACHE_TTL"),
			Destination: &cfg.CacheTTL, Value: cfg.CacheTTL,
			Usage: "How long a cached conversation list may be served",
		},
		&cli.Int64Flag{
			Name: "cache-local-max-entries", Category: catCache, Sources: env("CACHE_LOCAL_MAX_ENTRIES"),
			Destination: &cfg.LocalCacheMaxEntries, Value: cfg.LocalCacheMaxEntries,
			Usage: "Conversation lists held by --cache-kind=local",
		},
	}
}

func providerFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name: "default-provider", Category: catProviders, Sources: env("DEFAULT_PROVIDER"),
			Destination: &cfg.DefaultProvider, Value: cfg.DefaultProvider,
			Usage: "Provider used when a chat request names none (" + strings.Join(registryprovider.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name: "default-model-id", Category: catProviders, Sources: env("DEFAULT_MODEL_ID"),
			Destination: &cfg.DefaultModelID, Value: cfg.DefaultModelID,
			Usage: "Model used when a chat request names none",
		},
		&cli.DurationFlag{
			Name: "provider-timeout", Category: catProviders, Sources: env("PROVIDER_TIMEOUT"),
			Destination: &cfg.ProviderTimeout, Value: cfg.ProviderTimeout,
			Usage: "Deadline for a single model provider call",
		},
		&cli.IntFlag{
			Name: "provider-max-tokens", Category: catProviders, Sources: env("PROVIDER_MAX_TOKENS"),
			Destination: &cfg.ProviderMaxTokens, Value: cfg.ProviderMaxTokens,
			Usage: "Maximum tokens in a generated reply",
		},
		&cli.StringFlag{
			Name: "google-api-key", Category: catProviders, Sources: env("GOOGLE_API_KEY"),
			Destination: &cfg.GeminiAPIKey,
			Usage:       "Gemini API key",
		},
		&cli.StringFlag{
			Name: "google-base-url", Category: catProviders, Sources: env("GOOGLE_BASE_URL"),
			Destination: &cfg.GeminiBaseURL,
			Usage:       "Gemini API endpoint override",
		},
		&cli.StringFlag{
			Name: "anthropic-api-key", Category: catProviders, Sources: env("ANTHROPIC_API_KEY"),
			Destination: &cfg.AnthropicAPIKey,
			Usage:       "Anthropic API key",
		},
		&cli.StringFlag{
			Name: "anthropic-base-url", Category: catProviders, Sources: env("ANTHROPIC_BASE_URL"),
			Destination: &cfg.AnthropicBaseURL, Value: cfg.AnthropicBaseURL,
			Usage: "Anthropic API base URL",
		},
		&cli.StringFlag{
			Name: "openai-api-key", Category: catProviders, Sources: env("OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name: "openai-base-url", Category: catProviders, Sources: env("OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL, Value: cfg.OpenAIBaseURL,
			Usage: "OpenAI API base URL",
		},
	}
}

func authFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name: "jwt-secret", Category: catAuth, Sources: env("JWT_SECRET"),
			Destination: &cfg.JWTSecret,
			Usage:       "Shared HS256 secret for bearer tokens",
		},
		&cli.StringFlag{
			Name: "oidc-issuer", Category: catAuth, Sources: env("OIDC_ISSUER"),
			Destination: &cfg.OIDCIssuer,
			Usage:       "OIDC issuer URL; enables RS256 tokens from that issuer",
		},
		&cli.StringFlag{
			Name: "oidc-discovery-url", Category: catAuth, Sources: env("OIDC_DISCOVERY_URL"),
			Destination: &cfg.OIDCDiscoveryURL,
			Usage:       "Internal discovery URL when the issuer URL is not reachable from the server",
		},
	}
}
