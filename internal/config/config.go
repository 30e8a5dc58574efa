package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the threadflow service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode a bearer token that is not a JWT is taken as the user ID.
	Mode string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// LogFormat is one of text, json, logfmt.
	LogFormat string

	// Datastore backend type: "mongo", "postgres" or "memory".
	DatastoreType string

	// Database connection URL. For mongo the database name is taken from the URL path.
	DBURL string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Cache backend type: "none", "local" or "redis".
	CacheType string
	RedisURL  string
	// CacheTTL bounds how long a cached conversation list is kept.
	CacheTTL time.Duration
	// LocalCacheMaxEntries bounds the in-process cache size.
	LocalCacheMaxEntries int64

	// Credentials
	JWTSecret        string
	OIDCIssuer       string
	OIDCDiscoveryURL string // Internal URL for OIDC discovery (when issuer URL is not reachable)

	// Model providers
	GeminiAPIKey     string
	GeminiBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	DefaultProvider  string
	DefaultModelID   string
	// ProviderTimeout bounds a single model provider call.
	ProviderTimeout time.Duration
	// ProviderMaxTokens caps the length of a generated reply.
	ProviderMaxTokens int

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=threadflow".
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port (or THREADFLOW_MANAGEMENT_PORT)
	// was explicitly provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints (/health, /ready, /metrics).
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Body size limit (bytes)
	MaxBodySize int64

	// DrainTimeout bounds graceful shutdown.
	DrainTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		LogLevel:                "info",
		LogFormat:               "text",
		DatastoreType:           "mongo",
		DBURL:                   "mongodb://mongo:27017/threadflow",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		CacheType:               "none",
		CacheTTL:                10 * time.Minute,
		LocalCacheMaxEntries:    10000,
		AnthropicBaseURL:        "https://api.anthropic.com",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		DefaultProvider:         "google",
		DefaultModelID:          "gemini-2.0-flash",
		ProviderTimeout:         60 * time.Second,
		ProviderMaxTokens:       1024,
		MetricsLabels:           "service=threadflow",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         false,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
		},
		CORSEnabled:  true,
		CORSOrigins:  "*",
		MaxBodySize:  1024 * 1024,
		DrainTimeout: 30 * time.Second,
	}
}

// MongoDatabaseName returns the database named in a mongodb:// URL path, or
// "threadflow" when the URL does not name one.
func (c *Config) MongoDatabaseName() string {
	const fallback = "threadflow"
	if c == nil {
		return fallback
	}
	raw := strings.TrimSpace(c.DBURL)
	if idx := strings.Index(raw, "://"); idx >= 0 {
		raw = raw[idx+3:]
	}
	slash := strings.IndexByte(raw, '/')
	if slash < 0 {
		return fallback
	}
	name := raw[slash+1:]
	if q := strings.IndexByte(name, '?'); q >= 0 {
		name = name[:q]
	}
	if name == "" {
		return fallback
	}
	return name
}
