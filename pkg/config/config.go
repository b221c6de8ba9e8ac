// Package config holds the server configuration and the policy pack loader.
// Configuration files are YAML (JSON accepted as a fallback); policy packs
// are JSON documents describing namespaces, shapes, policies, and rules.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/pkg/logging"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// CacheConfig configures host call memoization.
type CacheConfig struct {
	// DefaultTTLSeconds applies to memo annotations without an explicit TTL.
	DefaultTTLSeconds int `yaml:"default_ttl_seconds" json:"default_ttl_seconds"`
	// SweepInterval controls how often expired entries are reclaimed.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// PackConfig locates policy packs on disk.
type PackConfig struct {
	// Dir is watched for *.json pack files; every change reloads the program.
	Dir string `yaml:"dir" json:"dir"`
	// MaxRevisions caps how many loaded revisions the store retains.
	MaxRevisions int `yaml:"max_revisions" json:"max_revisions"`
}

// Config is the root server configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server" json:"server"`
	Logging   logging.Config   `yaml:"logging" json:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
	Cache     CacheConfig      `yaml:"cache" json:"cache"`
	Packs     PackConfig       `yaml:"packs" json:"packs"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: logging.Config{Level: "info"},
		Telemetry: telemetry.Config{
			ServiceName: "arbiter",
		},
		Cache: CacheConfig{
			DefaultTTLSeconds: 300,
			SweepInterval:     time.Minute,
		},
		Packs: PackConfig{
			Dir:          "packs",
			MaxRevisions: 16,
		},
	}
}

// LoadFile reads a configuration file, trying YAML first and JSON second,
// then applies environment overrides and validates.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied at startup
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if yamlErr := yaml.Unmarshal(data, &cfg); yamlErr != nil {
		if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
			return cfg, fmt.Errorf("parse config: %v", yamlErr)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the file without
// editing it.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARBITER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ARBITER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ARBITER_PACK_DIR"); v != "" {
		cfg.Packs.Dir = v
	}
	if v := os.Getenv("ARBITER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
	if v := os.Getenv("ARBITER_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DefaultTTLSeconds = n
		}
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Packs.Dir == "" {
		return fmt.Errorf("packs.dir must not be empty")
	}
	if c.Cache.DefaultTTLSeconds < 0 {
		return fmt.Errorf("cache.default_ttl_seconds must not be negative")
	}
	if c.Packs.MaxRevisions < 0 {
		return fmt.Errorf("packs.max_revisions must not be negative")
	}
	return nil
}
