package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the chat-backend service.
type Config struct {
	LogFormat  string `envconfig:"LOG_FORMAT" default:"json"`
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Metering   MeteringConfig
	Completion CompletionConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host      string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port      string `envconfig:"SERVER_PORT" default:"8080"`
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	DSN string `envconfig:"DATABASE_DSN" required:"true"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	URI string `envconfig:"REDIS_URI" required:"true"`
}

// MeteringConfig holds the food economy tunables. CharsPerFood is the
// number of non-whitespace characters that cost one food unit.
type MeteringConfig struct {
	CharsPerFood int `envconfig:"CHARS_PER_FOOD" default:"100"`
}

// CompletionConfig holds the external completion provider and worker
// configuration. Only the worker binary requires these.
type CompletionConfig struct {
	BaseURL      string        `envconfig:"COMPLETION_BASE_URL" default:""`
	APIKey       string        `envconfig:"COMPLETION_API_KEY" default:""`
	Model        string        `envconfig:"COMPLETION_MODEL" default:""`
	ServerURL    string        `envconfig:"WORKER_SERVER_URL" default:"http://localhost:8080"`
	WorkerToken  string        `envconfig:"WORKER_TOKEN" default:""`
	PollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"2s"`
	BatchSize    int           `envconfig:"WORKER_BATCH_SIZE" default:"10"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration for logical errors beyond required fields.
func (c *Config) Validate() error {
	if c.Metering.CharsPerFood <= 0 {
		return fmt.Errorf("CHARS_PER_FOOD must be positive, got %d", c.Metering.CharsPerFood)
	}
	if c.Completion.BatchSize <= 0 {
		c.Completion.BatchSize = 10
	}
	return nil
}
