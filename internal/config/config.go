// Package config loads the oracle configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/twap_oracle/pkg/logger"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// OracleConfig fixes the sliding window. Immutable after construction.
type OracleConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	Granularity   int `yaml:"granularity"`
}

// SourceConfig selects the cumulative-price source. An empty URL selects
// the built-in simulated source.
type SourceConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig         `yaml:"server"`
	Oracle  OracleConfig         `yaml:"oracle"`
	Source  SourceConfig         `yaml:"source"`
	Logging logger.LoggingConfig `yaml:"logging"`
}

// Default returns the configuration used when no file is present: a one
// hour window split into twelve five-minute periods.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Oracle: OracleConfig{WindowSeconds: 3600, Granularity: 12},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration from the given path, falling back to
// defaults when the file does not exist, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Defaults plus environment only.
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ORACLE_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("ORACLE_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("ORACLE_WINDOW_SECONDS")); v != "" {
		if window, err := strconv.Atoi(v); err == nil {
			cfg.Oracle.WindowSeconds = window
		}
	}
	if v := strings.TrimSpace(os.Getenv("ORACLE_GRANULARITY")); v != "" {
		if granularity, err := strconv.Atoi(v); err == nil {
			cfg.Oracle.Granularity = granularity
		}
	}
	if v := strings.TrimSpace(os.Getenv("TWAP_SOURCE_URL")); v != "" {
		cfg.Source.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("TWAP_SOURCE_KEY")); v != "" {
		cfg.Source.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate rejects configurations the oracle cannot be constructed from.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Oracle.WindowSeconds <= 0 {
		return fmt.Errorf("oracle window_seconds must be positive, got %d", c.Oracle.WindowSeconds)
	}
	if c.Oracle.Granularity <= 1 {
		return fmt.Errorf("oracle granularity must be greater than 1, got %d", c.Oracle.Granularity)
	}
	if c.Oracle.WindowSeconds%c.Oracle.Granularity != 0 {
		return fmt.Errorf("oracle window_seconds %d not evenly divisible by granularity %d",
			c.Oracle.WindowSeconds, c.Oracle.Granularity)
	}
	return nil
}
