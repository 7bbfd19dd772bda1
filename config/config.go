package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// NodeName identifies this daemon instance for node/affinity purposes
	// (the "h" in spec.md §4.4's eligibility filter). Defaults to the host
	// name when NODE_NAME is unset.
	NodeName string `env:"NODE_NAME" validate:"required"`
	// NCPUs is this node's configured CPU capacity.
	NCPUs int `env:"NCPUS" envDefault:"4" validate:"min=1"`
	// CapacityMode selects counter or query accounting (spec.md §4.5).
	CapacityMode string `env:"CAPACITY_MODE" envDefault:"query" validate:"required,oneof=counter query"`
	// RootDir is the directory submitted script paths are resolved against.
	RootDir string `env:"ROOT_DIR,required" validate:"required"`

	RPCPort     string `env:"RPC_PORT" envDefault:"16219" validate:"required"`
	StatusPort  string `env:"STATUS_PORT" envDefault:"8080" validate:"required"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090" validate:"required"`

	DispatchWarmupDelaySec int `env:"DISPATCH_WARMUP_DELAY_SEC" envDefault:"10" validate:"min=0,max=300"`
	DispatchPollIntervalSec int `env:"DISPATCH_POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	ResendAPIKey   string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom     string `env:"RESEND_FROM" validate:"required_if=Env production,required_if=Env staging"`
	ChatWebhookURL string `env:"CHAT_WEBHOOK_URL"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.NodeName == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve hostname: %w", err)
		}
		cfg.NodeName = host
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
