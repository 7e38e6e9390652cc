package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills fields the file left unset. Checkpoint and retry
// settings keep their zero values here; the checkpoint manager and the
// executor default those themselves.
func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Reports.SpoolDir == "" {
		c.Reports.SpoolDir = "spool"
	}
	if c.Reports.MaxActions <= 0 {
		c.Reports.MaxActions = 50
	}
	if c.Reports.MaxRecoveryAttempts <= 0 {
		c.Reports.MaxRecoveryAttempts = 10
	}
	if c.Reports.Retention <= 0 {
		c.Reports.Retention = 30 * 24 * time.Hour
	}
}
