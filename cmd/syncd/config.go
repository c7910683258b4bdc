// Package main provides the Shelfline sync daemon CLI.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Push     PushConfig     `yaml:"push"`
	Recheck  RecheckConfig  `yaml:"recheck"`
	Status   StatusConfig   `yaml:"status"`
	Instance InstanceConfig `yaml:"instance"`
}

// APIConfig contains REST backend settings.
type APIConfig struct {
	Origin  string        `yaml:"origin"`  // e.g. https://api.shelfline.example
	Timeout time.Duration `yaml:"timeout"` // per-call deadline (default: 30s)
	Retries int           `yaml:"retries"` // transport retries per call (default: 2)
}

// PushConfig contains push channel settings.
type PushConfig struct {
	Origin               string   `yaml:"origin"` // defaults to api.origin
	Topics               []string `yaml:"topics"` // defaults to inventory, alerts
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"` // default: 5
}

// RecheckConfig controls the alert re-check cadence.
type RecheckConfig struct {
	Connected    time.Duration `yaml:"connected"`    // default: 10m
	Disconnected time.Duration `yaml:"disconnected"` // default: 5m
}

// StatusConfig contains the local status listener settings.
type StatusConfig struct {
	Listen string `yaml:"listen"` // default: 127.0.0.1:9480
}

// InstanceConfig identifies this daemon instance.
type InstanceConfig struct {
	ID string `yaml:"id"` // optional, auto-generated if empty
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.API.Timeout <= 0 {
		c.API.Timeout = 30 * time.Second
	}
	if c.API.Retries < 0 {
		c.API.Retries = 0
	} else if c.API.Retries == 0 {
		c.API.Retries = 2
	}
	if c.Push.Origin == "" {
		c.Push.Origin = c.API.Origin
	}
	if len(c.Push.Topics) == 0 {
		c.Push.Topics = []string{"inventory", "alerts"}
	}
	if c.Push.MaxReconnectAttempts <= 0 {
		c.Push.MaxReconnectAttempts = 5
	}
	if c.Recheck.Connected <= 0 {
		c.Recheck.Connected = 10 * time.Minute
	}
	if c.Recheck.Disconnected <= 0 {
		c.Recheck.Disconnected = 5 * time.Minute
	}
	if c.Status.Listen == "" {
		c.Status.Listen = "127.0.0.1:9480"
	}
	if c.Instance.ID == "" {
		c.Instance.ID = uuid.New().String()
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.API.Origin == "" {
		return fmt.Errorf("api.origin is required")
	}
	if !strings.HasPrefix(c.API.Origin, "http://") && !strings.HasPrefix(c.API.Origin, "https://") {
		return fmt.Errorf("api.origin must be an http(s) URL")
	}
	for i, topic := range c.Push.Topics {
		if topic != "inventory" && topic != "alerts" {
			return fmt.Errorf("push.topics[%d]: unknown topic %q", i, topic)
		}
	}
	return nil
}
