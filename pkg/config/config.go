// Package config loads loadlab settings from defaults, an optional YAML
// file, an optional .env file and LOADLAB_* environment variables, in that
// order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort               = "8080"
	defaultStorageDriver      = "file"
	defaultStoragePath        = "./data/load-tests"
	defaultCatalogPath        = "./configs/endpoints.yaml"
	defaultLogLevel           = "info"
	defaultHistoryLimit       = 50
	defaultSampleIntervalMs   = 1000
	defaultShutdownTimeoutSec = 30
)

// Config is the full application configuration
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Storage  StorageConfig `yaml:"storage"`
	Engine   EngineConfig  `yaml:"engine"`
	Catalog  string        `yaml:"catalog"`
	LogLevel string        `yaml:"log_level"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port               string `yaml:"port"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
}

// StorageConfig selects the record store
type StorageConfig struct {
	Driver string `yaml:"driver"` // "file" or "sqlite"
	Path   string `yaml:"path"`
}

// EngineConfig holds engine-wide defaults
type EngineConfig struct {
	// Applied when a request leaves requestTimeoutSeconds unset
	DefaultRequestTimeoutSec int  `yaml:"default_request_timeout_sec"`
	HistoryLimit             int  `yaml:"history_limit"`
	HostSampling             bool `yaml:"host_sampling"`
	SampleIntervalMs         int  `yaml:"sample_interval_ms"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               defaultPort,
			ShutdownTimeoutSec: defaultShutdownTimeoutSec,
		},
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
			Path:   defaultStoragePath,
		},
		Engine: EngineConfig{
			HistoryLimit:     defaultHistoryLimit,
			SampleIntervalMs: defaultSampleIntervalMs,
		},
		Catalog:  defaultCatalogPath,
		LogLevel: defaultLogLevel,
	}
}

// Load builds the configuration. A missing YAML file or .env file is not an
// error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("LOADLAB_PORT", c.Server.Port)
	c.Storage.Driver = getEnv("LOADLAB_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Path = getEnv("LOADLAB_STORAGE_PATH", c.Storage.Path)
	c.Catalog = getEnv("LOADLAB_CATALOG_PATH", c.Catalog)
	c.LogLevel = getEnv("LOADLAB_LOG_LEVEL", c.LogLevel)

	var err error
	if c.Engine.DefaultRequestTimeoutSec, err = getEnvInt("LOADLAB_REQUEST_TIMEOUT", c.Engine.DefaultRequestTimeoutSec); err != nil {
		return err
	}
	if c.Engine.HistoryLimit, err = getEnvInt("LOADLAB_HISTORY_LIMIT", c.Engine.HistoryLimit); err != nil {
		return err
	}
	if v := os.Getenv("LOADLAB_HOST_SAMPLING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOADLAB_HOST_SAMPLING: %w", err)
		}
		c.Engine.HostSampling = b
	}
	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Storage.Driver != "file" && c.Storage.Driver != "sqlite" {
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if c.Engine.DefaultRequestTimeoutSec < 0 {
		return fmt.Errorf("default request timeout cannot be negative")
	}
	if c.Engine.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be greater than 0")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// SampleInterval returns the host sampling interval
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.Engine.SampleIntervalMs) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown window
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}

// Logger builds the process logger at the configured level
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
