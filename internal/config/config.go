// Package config loads CLI-level settings from a YAML file, created with
// defaults if missing.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores the CLI-wide configuration.
type Config struct {
	// DataDir is where store files live. Empty means the platform default.
	DataDir string `yaml:"data_dir"`

	// FlushDelayMS is the debounce window for coalesced writes, in
	// milliseconds. 0 means the engine default.
	FlushDelayMS int `yaml:"flush_delay_ms"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{LogLevel: "info"}
}

// Validate checks that the configuration is well-formed.
func (c *Config) Validate() error {
	if c.FlushDelayMS < 0 {
		return errors.New("flush_delay_ms must be non-negative")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.LogLevel)
	}
	return nil
}

// FlushDelay returns the configured debounce window, or 0 when the engine
// default should apply.
func (c *Config) FlushDelay() time.Duration {
	return time.Duration(c.FlushDelayMS) * time.Millisecond
}

// Load reads the configuration from path. A missing file is not an error:
// defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from a CLI flag, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
