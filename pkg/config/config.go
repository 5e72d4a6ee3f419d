// Package config loads server configuration from an optional YAML file
// with environment variable overrides on top. Env always wins, so a
// deployment can ship one file and tune individual knobs per instance.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	// StoreDriver selects persistence: "memory", "sqlite" or "postgres".
	StoreDriver string `yaml:"store_driver"`
	// StoreDSN is the connection string for sqlite/postgres drivers.
	StoreDSN string `yaml:"store_dsn"`

	// RedisAddr enables the Redis contract cache and distributed rate
	// limiter when set. Empty means in-process equivalents.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	// TokenSecret signs service tokens. Empty disables token auth and
	// leaves API keys as the only credential.
	TokenSecret string `yaml:"token_secret"`

	// WebhookURL receives proposal and publish notifications, signed with
	// WebhookSecret. Empty disables webhooks.
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`

	// RateLimitRPM caps requests per principal per minute; 0 disables
	// rate limiting.
	RateLimitRPM   int `yaml:"rate_limit_rpm"`
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// Default returns the development defaults: in-memory store, no Redis,
// no webhooks, limiter off.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8080",
		LogLevel:       "info",
		StoreDriver:    "memory",
		RateLimitBurst: 10,
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "COVENANT_LISTEN_ADDR")
	setString(&c.LogLevel, "COVENANT_LOG_LEVEL")
	setString(&c.StoreDriver, "COVENANT_STORE_DRIVER")
	setString(&c.StoreDSN, "COVENANT_STORE_DSN")
	setString(&c.RedisAddr, "COVENANT_REDIS_ADDR")
	setString(&c.RedisPassword, "COVENANT_REDIS_PASSWORD")
	setString(&c.TokenSecret, "COVENANT_TOKEN_SECRET")
	setString(&c.WebhookURL, "COVENANT_WEBHOOK_URL")
	setString(&c.WebhookSecret, "COVENANT_WEBHOOK_SECRET")
	setInt(&c.RateLimitRPM, "COVENANT_RATE_LIMIT_RPM")
	setInt(&c.RateLimitBurst, "COVENANT_RATE_LIMIT_BURST")
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory":
	case "sqlite", "postgres":
		if c.StoreDSN == "" {
			return fmt.Errorf("store_dsn is required for the %s driver", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown store_driver %q (want memory, sqlite or postgres)", c.StoreDriver)
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return fmt.Errorf("webhook_secret is required when webhook_url is set")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("rate_limit_rpm must not be negative")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
