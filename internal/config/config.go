// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Ledger struct {
	BaseURL           string        `env:"LEDGER_BASE_URL" envDefault:"http://localhost:9100"`
	PrivilegedBaseURL string        `env:"LEDGER_PRIVILEGED_BASE_URL" envDefault:"http://localhost:9101"`
	ClientID          string        `env:"LEDGER_CLIENT_ID"`
	PrivilegedSecret  string        `env:"LEDGER_PRIVILEGED_SECRET"`
	ProcessAlias      string        `env:"LEDGER_PROCESS_ALIAS" envDefault:"default-purchase/release-1"`
	Timeout           time.Duration `env:"LEDGER_TIMEOUT" envDefault:"15s"`
}

type Gateway struct {
	BaseURL        string        `env:"GATEWAY_BASE_URL" envDefault:"http://localhost:9200"`
	PublishableKey string        `env:"GATEWAY_PUBLISHABLE_KEY"`
	Timeout        time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type Mongo struct {
	URI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"MONGO_DATABASE" envDefault:"storefront"`
}

type Events struct {
	SQLitePath    string   `env:"EVENTS_DB_PATH" envDefault:"data/storefront.db"`
	MigrationsDir string   `env:"EVENTS_MIGRATIONS_DIR" envDefault:"internal/events/migrations"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
}

type Config struct {
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Ledger  Ledger
	Gateway Gateway
	Redis   Redis
	Mongo   Mongo
	Events  Events
}

// Load parses the full configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
