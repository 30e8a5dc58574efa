package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvAliases reads the environment variable names used by earlier
// ThreadFlow deployments. A value is only applied when the corresponding
// setting still holds its default, so THREADFLOW_* variables and flags win.
func (c *Config) ApplyEnvAliases() error {
	if c == nil {
		return nil
	}
	defaults := DefaultConfig()

	if c.DBURL == defaults.DBURL {
		if raw := strings.TrimSpace(os.Getenv("MONGODB_URI")); raw != "" {
			c.DBURL = raw
			c.DatastoreType = "mongo"
		}
	}
	applyStringEnvIfEmpty("JWT_SECRET", &c.JWTSecret)
	applyStringEnvIfEmpty("GEMINI_API_KEY", &c.GeminiAPIKey)
	applyStringEnvIfEmpty("GOOGLE_API_KEY", &c.GeminiAPIKey)
	applyStringEnvIfEmpty("ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	applyStringEnvIfEmpty("OPENAI_API_KEY", &c.OpenAIAPIKey)

	if c.DefaultProvider == defaults.DefaultProvider {
		applyStringEnv("DEFAULT_MODEL_PROVIDER", &c.DefaultProvider)
	}
	if c.DefaultModelID == defaults.DefaultModelID {
		applyStringEnv("DEFAULT_MODEL_ID", &c.DefaultModelID)
	}
	if c.ProviderTimeout == defaults.ProviderTimeout {
		if err := applyDurationEnv("MODEL_TIMEOUT", &c.ProviderTimeout); err != nil {
			return err
		}
	}
	if c.ProviderMaxTokens == defaults.ProviderMaxTokens {
		if err := applyIntEnv("MODEL_MAX_TOKENS", &c.ProviderMaxTokens); err != nil {
			return err
		}
	}
	return nil
}

func applyStringEnv(key string, dest *string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	*dest = raw
}

func applyStringEnvIfEmpty(key string, dest *string) {
	if strings.TrimSpace(*dest) != "" {
		return
	}
	applyStringEnv(key, dest)
}

func applyIntEnv(key string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyDurationEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := parseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

// parseDuration accepts Go durations ("30s") and bare integers as seconds.
func parseDuration(raw string) (time.Duration, error) {
	v := strings.TrimSpace(strings.ToLower(raw))
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(v); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}
		return d, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("unsupported format %q", raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return time.Duration(n) * time.Second, nil
}
