// Package config loads MLTRACKR_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const Prefix = "MLTRACKR"

const (
	StoreBadger = "badger"
	StoreLibSQL = "libsql"
)

// Config is the full service configuration.
type Config struct {
	Port           int      `envconfig:"PORT" default:"8080"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`

	Store          string `envconfig:"STORE" default:"badger"`
	BadgerPath     string `envconfig:"BADGER_PATH" default:"data/mltrackr"`
	BadgerInMemory bool   `envconfig:"BADGER_IN_MEMORY"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	AuthToken      string `envconfig:"AUTH_TOKEN"`

	JWTSecret string `envconfig:"JWT_SECRET"`

	StoreTimeout      time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	MaxUpdateAttempts int           `envconfig:"MAX_UPDATE_ATTEMPTS" default:"3"`
	VersionRetention  int           `envconfig:"VERSION_RETENTION" default:"0"`

	RateLimit float64 `envconfig:"RATE_LIMIT" default:"20"`
	RateBurst int     `envconfig:"RATE_BURST" default:"40"`

	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL"`

	OTelEnabled  bool   `envconfig:"OTEL_ENABLED"`
	OTelEndpoint string `envconfig:"OTEL_ENDPOINT"`
	OTelInsecure bool   `envconfig:"OTEL_INSECURE"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads and validates the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreBadger:
		if !c.BadgerInMemory && c.BadgerPath == "" {
			return fmt.Errorf("%s_BADGER_PATH is required unless %s_BADGER_IN_MEMORY is set", Prefix, Prefix)
		}
	case StoreLibSQL:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%s_DATABASE_URL is required for the libsql store", Prefix)
		}
	default:
		return fmt.Errorf("%s_STORE must be %q or %q, got %q", Prefix, StoreBadger, StoreLibSQL, c.Store)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%s_PORT out of range: %d", Prefix, c.Port)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("%s_STORE_TIMEOUT must be positive", Prefix)
	}
	if c.MaxUpdateAttempts < 1 {
		return fmt.Errorf("%s_MAX_UPDATE_ATTEMPTS must be at least 1", Prefix)
	}
	if c.VersionRetention < 0 {
		return fmt.Errorf("%s_VERSION_RETENTION must not be negative", Prefix)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("%s_RATE_LIMIT and %s_RATE_BURST must not be negative", Prefix, Prefix)
	}
	return nil
}

// RequireJWTSecret is checked by commands that sign or verify tokens.
func (c *Config) RequireJWTSecret() error {
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("%s_JWT_SECRET must be set to at least 16 bytes", Prefix)
	}
	return nil
}
