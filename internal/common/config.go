// Package common provides shared utilities for rocketd
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for rocketd
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Rocket      RocketConfig  `toml:"rocket"`
	Codec       CodecConfig   `toml:"codec"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP status-surface configuration (health, job list,
// dashboard, websocket push).
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the SurrealDB connection settings for the job store
// and the two slice collections. The spec keeps jobs/servers/config in one
// connection and input/output slices in a second, higher-throughput
// connection, so both are configurable independently.
type StorageConfig struct {
	Jobs   SurrealConfig `toml:"jobs"`
	Slices SurrealConfig `toml:"slices"`
}

// SurrealConfig holds connection parameters for one SurrealDB endpoint.
type SurrealConfig struct {
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the connection timeout duration.
func (c *SurrealConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// RocketConfig is the process-wide engine configuration (spec.md §4.8/C10):
// worker concurrency, heartbeat/poll cadence, and the inline-mode test
// escape hatch. Loaded once at startup and handed explicitly to the
// supervisor and dispatcher — never read from a package-level global.
type RocketConfig struct {
	MaxWorkerThreads int  `toml:"max_worker_threads"`
	HeartbeatSeconds int  `toml:"heartbeat_seconds"`
	MaxPollSeconds   int  `toml:"max_poll_seconds"`
	ReCheckSeconds   int  `toml:"re_check_seconds"`
	InlineMode       bool `toml:"inline_mode"`
	DefaultSliceSize int  `toml:"default_slice_size"`

	// ConfigReloadEvery is the number of heartbeats between config reloads
	// (spec §4.7's "every N heartbeats, reload own config").
	ConfigReloadEvery int `toml:"config_reload_every"`
}

// CodecConfig holds the slice-payload codec's master secret and the key
// version new payloads are encoded with. Only this one secret is
// configured, and the codec is built with it as its only key, so payloads
// encoded under any other key version do not decode.
type CodecConfig struct {
	MasterSecret string `toml:"master_secret"`
	KeyVersion   int    `toml:"key_version"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string   `toml:"level" mapstructure:"level"`
	Format     string   `toml:"format" mapstructure:"format"`
	Outputs    []string `toml:"outputs" mapstructure:"outputs"`
	FilePath   string   `toml:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int      `toml:"max_backups" mapstructure:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Jobs: SurrealConfig{
				Address:   "ws://localhost:8000/rpc",
				Namespace: "rocketd",
				Database:  "jobs",
				Timeout:   "10s",
			},
			Slices: SurrealConfig{
				Address:   "ws://localhost:8000/rpc",
				Namespace: "rocketd",
				Database:  "slices",
				Timeout:   "10s",
			},
		},
		Rocket: RocketConfig{
			MaxWorkerThreads:  10,
			HeartbeatSeconds:  5,
			MaxPollSeconds:    5,
			ReCheckSeconds:    30,
			DefaultSliceSize:  100,
			ConfigReloadEvery: 10,
		},
		Codec: CodecConfig{
			MasterSecret: "dev-codec-secret-change-in-production",
			KeyVersion:   1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console", "file"},
			FilePath:   "./logs/rocketd.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ROCKETD_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("ROCKETD_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("ROCKETD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("ROCKETD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if v := os.Getenv("ROCKETD_JOBS_ADDRESS"); v != "" {
		config.Storage.Jobs.Address = v
	}
	if v := os.Getenv("ROCKETD_SLICES_ADDRESS"); v != "" {
		config.Storage.Slices.Address = v
	}

	if v := os.Getenv("ROCKETD_MAX_WORKER_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Rocket.MaxWorkerThreads = n
		}
	}
	if v := os.Getenv("ROCKETD_HEARTBEAT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Rocket.HeartbeatSeconds = n
		}
	}
	if v := os.Getenv("ROCKETD_INLINE_MODE"); v != "" {
		config.Rocket.InlineMode = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("ROCKETD_CODEC_SECRET"); v != "" {
		config.Codec.MasterSecret = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
