// Package config loads the relay's settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

// Config is shared by the relay server, the archiver and relayctl. Each
// binary reads only the fields it needs.
type Config struct {
	Environment string `env:"ENVIRONMENT,default=development" validate:"oneof=development production test"`
	LogLevel    string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`

	// Transport
	ListenAddr     string        `env:"LISTEN_ADDR,default=:8080" validate:"required"`
	WorkerPoolSize int           `env:"WORKER_POOL_SIZE,default=256" validate:"min=1"`
	MaxConnections int           `env:"MAX_CONNECTIONS,default=100000" validate:"min=1"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT,default=10s" validate:"min=0"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT,default=10s" validate:"min=0"`
	SendQueueSize  int           `env:"SEND_QUEUE_SIZE,default=256" validate:"min=1"`
	MaxFrameBytes  int64         `env:"MAX_FRAME_BYTES,default=8388608" validate:"min=1024"`
	AllowedOrigin  string        `env:"ALLOWED_ORIGIN,default=*"`

	// Presence
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL,default=1m" validate:"min=0"`
	OfflineTimeout time.Duration `env:"OFFLINE_TIMEOUT,default=10m" validate:"min=0"`

	// Retention; zero keeps everything.
	HistoryLimit        int `env:"HISTORY_LIMIT,default=0" validate:"min=0"`
	PrivateHistoryLimit int `env:"PRIVATE_HISTORY_LIMIT,default=0" validate:"min=0"`

	// Rate limiting; a zero message count disables it.
	RateMessages int           `env:"RATE_MESSAGES,default=20" validate:"min=0"`
	RateWindow   time.Duration `env:"RATE_WINDOW,default=10s" validate:"min=0"`
	RedisAddr    string        `env:"REDIS_ADDR"`

	// Archival
	ArchiveEnabled bool   `env:"ARCHIVE_ENABLED,default=false"`
	NATSURL        string `env:"NATS_URL,default=nats://localhost:4222"`
	DatabaseURL    string `env:"DATABASE_URL"`

	// relayctl
	RelayURL string `env:"RELAY_URL,default=http://localhost:8080" validate:"url"`
}

var validate = validator.New()

// Load reads .env if present, then the process environment, and validates
// the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Origins splits ALLOWED_ORIGIN on commas.
func (c *Config) Origins() []string {
	parts := lo.Map(strings.Split(c.AllowedOrigin, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	origins := lo.Compact(parts)
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// Debug reports whether dropped events should be logged.
func (c *Config) Debug() bool {
	return c.LogLevel == "debug"
}

// IsProduction reports whether gin should run in release mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
