// Package config loads the playground configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigSize bounds the size of a configuration file.
const MaxConfigSize = 1 << 20

// ErrInvalidConfig is wrapped by every error Validate returns.
var ErrInvalidConfig = errors.New("invalid config")

// Location kinds.
const (
	LocationMemory = "memory"
	LocationFile   = "file"
)

// Config represents the application configuration
type Config struct {
	Location      LocationConfig      `yaml:"location"`
	Persist       PersistConfig       `yaml:"persist"`
	Interpreter   InterpreterConfig   `yaml:"interpreter"`
	Server        ServerConfig        `yaml:"server"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LocationConfig selects the shareable-location slot.
type LocationConfig struct {
	// Kind is "memory" or "file".
	Kind string `yaml:"kind"`
	// Path is the slot file for the file kind.
	Path string `yaml:"path"`
	// BaseURL is the page share links point at.
	BaseURL string `yaml:"base_url"`
}

// PersistConfig tunes the debounced persister.
type PersistConfig struct {
	QuietInterval time.Duration `yaml:"quiet_interval"`
}

// InterpreterConfig holds interpreter limits
type InterpreterConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxTimeout      time.Duration `yaml:"max_timeout"`
	MaxOutput       int           `yaml:"max_output"`
	AllowUnsafeLibs bool          `yaml:"allow_unsafe_libs"`
	// Dir is where programs resolve modules.
	Dir string `yaml:"dir"`
}

// ServerConfig configures the HTTP API and the ops server.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	OpsPort      int           `yaml:"ops_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// RateLimitConfig configures per-client rate limiting of the HTTP API.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ObservabilityConfig toggles metrics and names the service for tracing.
type ObservabilityConfig struct {
	Metrics     bool   `yaml:"metrics"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return cfg
}

// newConfig returns a config with the boolean defaults set, which cannot be
// told apart from an explicit false after loading.
func newConfig() *Config {
	return &Config{
		RateLimit:     RateLimitConfig{Enabled: true},
		Observability: ObservabilityConfig{Metrics: true},
	}
}

// LoadConfig loads configuration from a YAML file. An empty path yields the
// defaults with environment overrides applied.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		cfg := newConfig()
		cfg.applyEnv()
		cfg.applyDefaults()
		return cfg, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if info.Size() > MaxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigSize)
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Environment fills whatever the file left unset.
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Location.Kind == "" {
		c.Location.Kind = LocationMemory
		if c.Location.Path != "" {
			c.Location.Kind = LocationFile
		}
	}
	if c.Location.BaseURL == "" {
		c.Location.BaseURL = "http://localhost:8080/"
	}
	if c.Persist.QuietInterval == 0 {
		c.Persist.QuietInterval = 200 * time.Millisecond
	}
	if c.Interpreter.Timeout == 0 {
		c.Interpreter.Timeout = 5 * time.Second
	}
	if c.Interpreter.MaxTimeout == 0 {
		c.Interpreter.MaxTimeout = 30 * time.Second
	}
	if c.Interpreter.MaxOutput == 0 {
		c.Interpreter.MaxOutput = 1 << 20
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.OpsPort == 0 {
		c.Server.OpsPort = 9090
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 40 * time.Second
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 2 << 20
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "playground"
	}
}

func (c *Config) applyEnv() {
	if c.Location.Path == "" {
		c.Location.Path = os.Getenv("PLAYGROUND_LOCATION")
	}
	if c.Location.BaseURL == "" {
		c.Location.BaseURL = os.Getenv("PLAYGROUND_BASE_URL")
	}
	if c.Server.Addr == "" {
		c.Server.Addr = os.Getenv("PLAYGROUND_ADDR")
	}
	if c.Server.OpsPort == 0 {
		if n, err := strconv.Atoi(os.Getenv("PLAYGROUND_OPS_PORT")); err == nil {
			c.Server.OpsPort = n
		}
	}
	if c.Persist.QuietInterval == 0 {
		if d, err := time.ParseDuration(os.Getenv("PLAYGROUND_QUIET_INTERVAL")); err == nil {
			c.Persist.QuietInterval = d
		}
	}
	if c.Interpreter.Timeout == 0 {
		if d, err := time.ParseDuration(os.Getenv("PLAYGROUND_TIMEOUT")); err == nil {
			c.Interpreter.Timeout = d
		}
	}
	if c.Interpreter.Dir == "" {
		c.Interpreter.Dir = os.Getenv("PLAYGROUND_DIR")
	}
	if !c.Interpreter.AllowUnsafeLibs {
		if b, err := strconv.ParseBool(os.Getenv("PLAYGROUND_ALLOW_UNSAFE_LIBS")); err == nil {
			c.Interpreter.AllowUnsafeLibs = b
		}
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = os.Getenv("OTEL_SERVICE_NAME")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Location.Kind {
	case LocationMemory:
	case LocationFile:
		if c.Location.Path == "" {
			return fmt.Errorf("%w: location.path is required for the file location", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown location.kind %q", ErrInvalidConfig, c.Location.Kind)
	}

	if u, err := url.Parse(c.Location.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: location.base_url must be an absolute URL", ErrInvalidConfig)
	}
	if c.Persist.QuietInterval < 0 {
		return fmt.Errorf("%w: persist.quiet_interval must not be negative", ErrInvalidConfig)
	}
	if c.Interpreter.Timeout < 0 || c.Interpreter.MaxTimeout < 0 {
		return fmt.Errorf("%w: interpreter timeouts must not be negative", ErrInvalidConfig)
	}
	if c.Interpreter.MaxTimeout > 0 && c.Interpreter.Timeout > c.Interpreter.MaxTimeout {
		return fmt.Errorf("%w: interpreter.timeout %s exceeds interpreter.max_timeout %s",
			ErrInvalidConfig, c.Interpreter.Timeout, c.Interpreter.MaxTimeout)
	}
	if c.Interpreter.MaxOutput < 0 {
		return fmt.Errorf("%w: interpreter.max_output must not be negative", ErrInvalidConfig)
	}
	if c.Server.OpsPort < 0 || c.Server.OpsPort > 65535 {
		return fmt.Errorf("%w: server.ops_port %d out of range", ErrInvalidConfig, c.Server.OpsPort)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("%w: rate_limit needs positive requests_per_second and burst", ErrInvalidConfig)
	}
	return nil
}
