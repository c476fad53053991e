// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Allocator AllocatorConfig `yaml:"allocator"`
	HTTP      HTTPConfig      `yaml:"http"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

type LedgerConfig struct {
	// RemainderPolicy is "reserve" or "discard".
	RemainderPolicy string `yaml:"remainder_policy"`
	// ReserveIndex designates the remainder slot; -1 means the last slot.
	ReserveIndex int `yaml:"reserve_index"`
}

type AllocatorConfig struct {
	Delta            float64 `yaml:"delta"`
	RewardMultiplier float64 `yaml:"reward_multiplier"`
	Schedule         string  `yaml:"schedule"`
}

type HTTPConfig struct {
	RateLimitPerSecond int      `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
}

// Load reads configuration from the path in COMMISSION_CONFIG (default
// config.yaml when present) and applies environment overrides on top.
func Load() (*Config, error) {
	cfg := defaults()

	path := strings.TrimSpace(os.Getenv("COMMISSION_CONFIG"))
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Fall through to env-only configuration.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Ledger:  LedgerConfig{RemainderPolicy: "reserve", ReserveIndex: -1},
		Allocator: AllocatorConfig{
			Delta:            0.01,
			RewardMultiplier: 100,
			Schedule:         "@every 15s",
		},
		HTTP: HTTPConfig{
			RateLimitPerSecond: 50,
			RateLimitBurst:     100,
			AllowedOrigins:     []string{"*"},
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("LEDGER_REMAINDER_POLICY"); v != "" {
		cfg.Ledger.RemainderPolicy = v
	}
	if v := os.Getenv("ALLOCATOR_SCHEDULE"); v != "" {
		cfg.Allocator.Schedule = v
	}
	if v := os.Getenv("ALLOCATOR_DELTA"); v != "" {
		if delta, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Allocator.Delta = delta
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Ledger.RemainderPolicy) {
	case "reserve", "discard":
	default:
		return fmt.Errorf("unknown remainder policy %q", c.Ledger.RemainderPolicy)
	}
	if c.Allocator.Delta < 0 {
		return fmt.Errorf("allocator delta must be non-negative")
	}
	if c.HTTP.RateLimitPerSecond <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}
