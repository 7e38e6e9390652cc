package config

import (
	"time"

	"github.com/vietddude/rescue/internal/checkpoint"
	"github.com/vietddude/rescue/internal/infra/probe"
	redisclient "github.com/vietddude/rescue/internal/infra/redis"
	"github.com/vietddude/rescue/internal/infra/storage/postgres"
	"github.com/vietddude/rescue/internal/recovery"
	"github.com/vietddude/rescue/internal/report"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Database    postgres.Config    `yaml:"database"`
	Redis       redisclient.Config `yaml:"redis"`
	Checkpoints checkpoint.Config  `yaml:"checkpoints"`
	Reports     report.Config      `yaml:"reports"`
	Retry       RetryConfig        `yaml:"retry"`
	Breaker     BreakerConfig      `yaml:"breaker"`
	Probe       probe.Config       `yaml:"probe"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RetryConfig holds backoff settings for the retry executor.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	Jitter        bool          `yaml:"jitter"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Reset     time.Duration `yaml:"reset"`
}

// RecoveryConfig merges the retry and breaker sections into the execution
// config consumed by the recovery executor. Zero fields keep the
// executor's defaults.
func (c *AppConfig) RecoveryConfig() recovery.Config {
	return recovery.Config{
		MaxRetries:       c.Retry.MaxRetries,
		InitialDelay:     c.Retry.InitialDelay,
		MaxDelay:         c.Retry.MaxDelay,
		BackoffFactor:    c.Retry.BackoffFactor,
		Jitter:           c.Retry.Jitter,
		BreakerThreshold: c.Breaker.Threshold,
		BreakerReset:     c.Breaker.Reset,
	}
}
