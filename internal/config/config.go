// Package config holds all configuration types and loading logic for groupq.
// Config structure never shrinks — fields are only added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a groupq server instance.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Store   StoreConfig   `yaml:"store"`
	Queue   QueueConfig   `yaml:"queue"`
	Auth    AuthConfig    `yaml:"auth"`
	Metrics MetricsConfig `yaml:"metrics"`
	Limits  LimitsConfig  `yaml:"limits"`
}

// NodeConfig holds identity and network settings for this server instance.
type NodeConfig struct {
	// ID is a ULID string. Use "auto" to generate and persist one on first start.
	ID      string `yaml:"id"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// Backend names a GroupStore implementation.
type Backend string

const (
	BackendBolt   Backend = "bolt"   // durable, single file — default
	BackendMemory Backend = "memory" // non-durable (dev/test only)
)

// StoreConfig selects and configures the group store.
type StoreConfig struct {
	Backend Backend `yaml:"backend"`
	// Path is the bbolt database file. Relative paths resolve under
	// node.data_dir. Ignored by the memory backend.
	Path string `yaml:"path"`
}

// QueueConfig sets defaults that apply to every group queue the server opens.
type QueueConfig struct {
	// Capacity bounds the TOTAL group size (marked + unmarked) at admission
	// time. 0 = unbounded.
	Capacity int `yaml:"capacity"`
	// MaxMessageSizeKB caps the body size of a single message. 0 = unlimited.
	MaxMessageSizeKB int `yaml:"max_message_size_kb"`
	// MaxWaitMs caps the ?wait= duration a client may request on blocking
	// offer/poll endpoints.
	MaxWaitMs int `yaml:"max_wait_ms"`
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LimitsConfig sets per-IP request rate limiting.
type LimitsConfig struct {
	// MaxRate is requests per second per client IP.
	MaxRate float64 `yaml:"max_rate"`
	// Burst allows temporary spikes above MaxRate.
	Burst int `yaml:"burst"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      "auto",
			Host:    "0.0.0.0",
			Port:    8080,
			DataDir: "./data",
		},
		Store: StoreConfig{
			Backend: BackendBolt,
			Path:    "groups.db",
		},
		Queue: QueueConfig{
			Capacity:         0, // unbounded
			MaxMessageSizeKB: 256,
			MaxWaitMs:        30_000,
		},
		Auth: AuthConfig{
			Enabled: false,
			APIKey:  "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Limits: LimitsConfig{
			MaxRate: 100,
			Burst:   200,
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run groupq with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	GROUPQ_AUTH_API_KEY — sets auth.api_key and enables auth (auth.enabled = true)
//	GROUPQ_DATA_DIR     — sets node.data_dir
//	GROUPQ_PORT         — sets node.port
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GROUPQ_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("GROUPQ_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("GROUPQ_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Node.Port = p
		}
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Node.Port < 1 || c.Node.Port > 65535 {
		return errors.New("node.port must be between 1 and 65535")
	}
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir must not be empty")
	}
	switch c.Store.Backend {
	case BackendBolt, BackendMemory:
		// valid
	default:
		return errors.New(`store.backend must be one of "bolt", "memory"`)
	}
	if c.Store.Backend == BackendBolt && c.Store.Path == "" {
		return errors.New("store.path must not be empty for the bolt backend")
	}
	if c.Queue.Capacity < 0 {
		return errors.New("queue.capacity must be >= 0 (0 = unbounded)")
	}
	if c.Queue.MaxWaitMs < 0 {
		return errors.New("queue.max_wait_ms must be >= 0")
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	if c.Limits.MaxRate <= 0 || c.Limits.Burst < 1 {
		return errors.New("limits.max_rate must be > 0 and limits.burst >= 1")
	}
	return nil
}
