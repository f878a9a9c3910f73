// Package config loads ScheduleZero's process configuration: an optional
// nested YAML file overlaid with flat environment variables, validated as
// a whole before the server binary starts. cmd/handler does not use it and
// takes its settings from command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EventBusConfig is the optional multi-instance coordination layer.
type EventBusConfig struct {
	Enabled   bool     `yaml:"enabled" env:"EVENT_BUS_ENABLED" envDefault:"false"`
	Publish   string   `yaml:"publish" env:"EVENT_BUS_PUBLISH"`
	Subscribe []string `yaml:"subscribe" env:"EVENT_BUS_SUBSCRIBE" envSeparator:","`
}

// CronConfig holds cron-trigger-wide settings.
type CronConfig struct {
	TZ string `yaml:"tz" env:"CRON_TZ" envDefault:"UTC"`
}

// Config is the full set of tunables for cmd/server.
type Config struct {
	DeploymentName     string `yaml:"deployment_name" env:"DEPLOYMENT_NAME" envDefault:"schedulezero" validate:"required"`
	HTTPListen         string `yaml:"http_listen" env:"HTTP_LISTEN" envDefault:"0.0.0.0:8080" validate:"required"`
	RegistrationListen string `yaml:"registration_listen" env:"REGISTRATION_LISTEN" envDefault:"0.0.0.0:7070" validate:"required"`
	StoreURL           string `yaml:"store_url" env:"STORE_URL"`

	PerAttemptTimeoutMS   int `yaml:"per_attempt_timeout_ms" env:"PER_ATTEMPT_TIMEOUT_MS" envDefault:"30000" validate:"min=1"`
	MaxAttempts           int `yaml:"max_attempts" env:"MAX_ATTEMPTS" envDefault:"3" validate:"min=1"`
	RingCapacity          int `yaml:"ring_capacity" env:"RING_CAPACITY" envDefault:"1000" validate:"min=1"`
	DispatcherPool        int `yaml:"dispatcher_pool" env:"DISPATCHER_POOL" envDefault:"32" validate:"min=1"`
	PerHandlerConcurrency int `yaml:"per_handler_concurrency" env:"PER_HANDLER_CONCURRENCY" envDefault:"4" validate:"min=1"`

	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms" env:"HEARTBEAT_INTERVAL_MS" envDefault:"5000" validate:"min=1"`
	HeartbeatTimeoutMS  int `yaml:"heartbeat_timeout_ms" env:"HEARTBEAT_TIMEOUT_MS" envDefault:"15000" validate:"min=1"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`
	LogPretty bool   `yaml:"log_pretty" env:"LOG_PRETTY" envDefault:"true"`

	EventBus EventBusConfig `yaml:"event_bus"`
	Cron     CronConfig     `yaml:"cron"`
}

// Load reads an optional YAML file at path (ignored if path is empty or
// the file does not exist), overlays environment variables on top of it,
// and validates the merged result. Environment variables always win over
// the file, matching the teacher's flat env-first config shape.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts LogLevel to a slog.Level.
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
