// Package config loads the daemon configuration: embedded defaults first,
// then an optional YAML file on top.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/ptyhost/configs"
)

// Config holds every tunable of the attach daemon.
type Config struct {
	Listen         string `yaml:"listen"`
	Token          string `yaml:"token"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	DefaultRows    uint16 `yaml:"default_rows"`
	DefaultCols    uint16 `yaml:"default_cols"`
	HistoryPath    string `yaml:"history_path"`
	LogLevel       string `yaml:"log_level"`
}

// PollInterval returns the configured poll pause as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Load builds a Config from the embedded defaults and, when path is not
// empty, the YAML file at path. A missing token is generated so every
// started daemon is authenticated.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(configs.DefaultConfig, cfg); err != nil {
		return nil, fmt.Errorf("config: parse embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("config: generate token: %w", err)
		}
		cfg.Token = token
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("config: poll_interval_ms must be positive, got %d", c.PollIntervalMs)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
