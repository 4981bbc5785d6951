package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines configuration for the plyfetch CLI.
type Config struct {
	ServerURL      string        `yaml:"server_url"`
	CacheDir       string        `yaml:"cache_dir"`
	Concurrency    int           `yaml:"concurrency"`
	ChunkTimeout   time.Duration `yaml:"chunk_timeout"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	Progress       bool          `yaml:"progress"`
	LogLevel       string        `yaml:"log_level"`
	Retry          RetryConfig   `yaml:"retry"`
}

// RetryConfig defines per-chunk retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults. Concurrency 8 saturates
// a local link without piling load on the compute server.
func Default() Config {
	return Config{
		CacheDir:       "cache/ply",
		Concurrency:    8,
		ChunkTimeout:   30 * time.Second,
		SessionTimeout: 5 * time.Minute,
		CacheTTL:       24 * time.Hour,
		LogLevel:       "info",
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    500 * time.Millisecond,
			MaxBackoff: 10 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	ServerURL      string          `yaml:"server_url"`
	CacheDir       string          `yaml:"cache_dir"`
	Concurrency    int             `yaml:"concurrency"`
	ChunkTimeout   string          `yaml:"chunk_timeout"`
	SessionTimeout string          `yaml:"session_timeout"`
	CacheTTL       string          `yaml:"cache_ttl"`
	Progress       bool            `yaml:"progress"`
	LogLevel       string          `yaml:"log_level"`
	Retry          yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.ServerURL != "" {
		cfg.ServerURL = yc.ServerURL
	}
	if yc.CacheDir != "" {
		cfg.CacheDir = yc.CacheDir
	}
	if yc.Concurrency != 0 {
		cfg.Concurrency = yc.Concurrency
	}
	if yc.ChunkTimeout != "" {
		d, err := time.ParseDuration(yc.ChunkTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_timeout: %w", err)
		}
		cfg.ChunkTimeout = d
	}
	if yc.SessionTimeout != "" {
		d, err := time.ParseDuration(yc.SessionTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse session_timeout: %w", err)
		}
		cfg.SessionTimeout = d
	}
	if yc.CacheTTL != "" {
		d, err := time.ParseDuration(yc.CacheTTL)
		if err != nil {
			return Config{}, fmt.Errorf("parse cache_ttl: %w", err)
		}
		cfg.CacheTTL = d
	}
	cfg.Progress = yc.Progress
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the PLYFETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("PLYFETCH_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("PLYFETCH_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("PLYFETCH_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PLYFETCH_CONCURRENCY: %w", err)
		}
		c.Concurrency = n
	}
	if v := os.Getenv("PLYFETCH_CHUNK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PLYFETCH_CHUNK_TIMEOUT: %w", err)
		}
		c.ChunkTimeout = d
	}
	if v := os.Getenv("PLYFETCH_SESSION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PLYFETCH_SESSION_TIMEOUT: %w", err)
		}
		c.SessionTimeout = d
	}
	if v := os.Getenv("PLYFETCH_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PLYFETCH_CACHE_TTL: %w", err)
		}
		c.CacheTTL = d
	}
	if v := os.Getenv("PLYFETCH_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("PLYFETCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PLYFETCH_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PLYFETCH_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("PLYFETCH_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PLYFETCH_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("PLYFETCH_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PLYFETCH_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("config: server_url is required")
	}
	if c.CacheDir == "" {
		return errors.New("config: cache_dir is required")
	}
	if c.Concurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.CacheTTL <= 0 {
		return errors.New("config: cache_ttl must be positive")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored. That rule covers Progress too:
// false is the bool zero value, so an override can enable progress but
// never disable it. Disabling belongs in the file or the environment.
func (c Config) Merge(override Config) Config {
	if override.ServerURL != "" {
		c.ServerURL = override.ServerURL
	}
	if override.CacheDir != "" {
		c.CacheDir = override.CacheDir
	}
	if override.Concurrency != 0 {
		c.Concurrency = override.Concurrency
	}
	if override.ChunkTimeout != 0 {
		c.ChunkTimeout = override.ChunkTimeout
	}
	if override.SessionTimeout != 0 {
		c.SessionTimeout = override.SessionTimeout
	}
	if override.CacheTTL != 0 {
		c.CacheTTL = override.CacheTTL
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}
