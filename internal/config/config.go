package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// IngestAPIKey guards POST /internal/events. Required — the platform
	// pushes domain events through that route.
	IngestAPIKey string `env:"INGEST_API_KEY"`

	// RedisURL enables the Redis event bridge when set. Optional.
	RedisURL      string `env:"REDIS_URL"`
	EventsChannel string `env:"EVENTS_CHANNEL" default:"realtime:events"`

	MaxConnections      int64   `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"32"`
	ConnectionRate      float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"20"`

	PingInterval   time.Duration `env:"PING_INTERVAL" default:"30s"`
	EvictAfter     time.Duration `env:"EVICT_AFTER" default:"60s"`
	SendBufferSize int           `env:"SEND_BUFFER_SIZE" default:"32"`

	// Per-connection limit on peer-initiated broadcast frames.
	BroadcastRate  float64 `env:"BROADCAST_RATE" default:"10"`
	BroadcastBurst int     `env:"BROADCAST_BURST" default:"20"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.IngestAPIKey == "" {
		return fmt.Errorf("INGEST_API_KEY is required")
	}
	if len(cfg.IngestAPIKey) < 16 {
		return fmt.Errorf("INGEST_API_KEY must be at least 16 characters")
	}

	if cfg.PingInterval <= 0 {
		return fmt.Errorf("PING_INTERVAL must be positive")
	}
	if cfg.EvictAfter <= cfg.PingInterval {
		return fmt.Errorf("EVICT_AFTER (%v) must be greater than PING_INTERVAL (%v)", cfg.EvictAfter, cfg.PingInterval)
	}

	if cfg.SendBufferSize < 1 {
		return fmt.Errorf("SEND_BUFFER_SIZE must be at least 1")
	}
	if cfg.MaxConnections < 1 {
		return fmt.Errorf("MAX_CONNECTIONS must be at least 1")
	}

	return nil
}
