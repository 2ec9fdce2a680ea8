package config

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
)

// Config holds all configuration for the application
type Config struct {
	Environment string `env:"ENVIRONMENT,default=development" validate:"oneof=development production test"`
	Port        string `env:"PORT,default=8080" validate:"required,numeric"`
	LogLevel    string `env:"LOG_LEVEL,default=INFO"`
	Redis       RedisConfig
	Upload      UploadConfig
	RateLimit   RateLimitConfig
}

// RedisConfig holds Redis configuration. An empty Addr disables rate limiting.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0" validate:"gte=0"`
}

// UploadConfig tunes the simulated upload progress.
type UploadConfig struct {
	TickInterval         time.Duration `env:"TICK_INTERVAL,default=200ms" validate:"gt=0"`
	ProgressStep         int           `env:"PROGRESS_STEP,default=10" validate:"gte=1,lte=100"`
	SimulatedFailureRate float64       `env:"SIMULATED_FAILURE_RATE,default=0" validate:"gte=0,lte=1"`
	MaxUploadMemory      string        `env:"MAX_UPLOAD_MEMORY,default=32MB"`
}

// RateLimitConfig holds the intake rate limit.
type RateLimitConfig struct {
	Limit  int           `env:"RATE_LIMIT,default=10" validate:"gte=1"`
	Window time.Duration `env:"RATE_LIMIT_WINDOW,default=1m" validate:"gt=0"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := cfg.Upload.MaxUploadMemoryBytes(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MaxUploadMemoryBytes parses MaxUploadMemory ("32MB", "512KiB", ...).
func (u UploadConfig) MaxUploadMemoryBytes() (int64, error) {
	n, err := units.RAMInBytes(u.MaxUploadMemory)
	if err != nil {
		return 0, fmt.Errorf("MAX_UPLOAD_MEMORY %q: %w", u.MaxUploadMemory, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("MAX_UPLOAD_MEMORY must be positive, got %q", u.MaxUploadMemory)
	}
	return n, nil
}

// RateLimitEnabled reports whether a Redis backend was configured.
func (c *Config) RateLimitEnabled() bool {
	return c.Redis.Addr != ""
}
