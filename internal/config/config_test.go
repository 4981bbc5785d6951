package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Concurrency != 8 {
		t.Errorf("expected default concurrency 8, got %d", cfg.Concurrency)
	}
	if cfg.CacheTTL != 24*time.Hour {
		t.Errorf("expected default cache TTL 24h, got %v", cfg.CacheTTL)
	}
	if cfg.ChunkTimeout != 30*time.Second {
		t.Errorf("expected default chunk timeout 30s, got %v", cfg.ChunkTimeout)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("expected default retry attempts 3, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.Backoff != 500*time.Millisecond {
		t.Errorf("expected default retry backoff 500ms, got %v", cfg.Retry.Backoff)
	}
	if cfg.Retry.MaxBackoff != 10*time.Second {
		t.Errorf("expected default retry max backoff 10s, got %v", cfg.Retry.MaxBackoff)
	}
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
server_url: http://192.168.1.50:8000
cache_dir: /var/cache/plyfetch
concurrency: 16
chunk_timeout: 45s
session_timeout: 10m
cache_ttl: 48h
progress: true
retry:
  attempts: 5
  backoff: 2s
  max_backoff: 60s
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.ServerURL != "http://192.168.1.50:8000" {
		t.Errorf("server url %q", cfg.ServerURL)
	}
	if cfg.CacheDir != "/var/cache/plyfetch" {
		t.Errorf("cache dir %q", cfg.CacheDir)
	}
	if cfg.Concurrency != 16 {
		t.Errorf("concurrency %d, want 16", cfg.Concurrency)
	}
	if cfg.ChunkTimeout != 45*time.Second {
		t.Errorf("chunk timeout %v, want 45s", cfg.ChunkTimeout)
	}
	if cfg.SessionTimeout != 10*time.Minute {
		t.Errorf("session timeout %v, want 10m", cfg.SessionTimeout)
	}
	if cfg.CacheTTL != 48*time.Hour {
		t.Errorf("cache ttl %v, want 48h", cfg.CacheTTL)
	}
	if !cfg.Progress {
		t.Error("expected progress true")
	}
	if cfg.Retry.Attempts != 5 {
		t.Errorf("retry attempts %d, want 5", cfg.Retry.Attempts)
	}
	if cfg.Retry.Backoff != 2*time.Second {
		t.Errorf("retry backoff %v, want 2s", cfg.Retry.Backoff)
	}
	if cfg.Retry.MaxBackoff != 60*time.Second {
		t.Errorf("retry max backoff %v, want 60s", cfg.Retry.MaxBackoff)
	}
}

func TestLoadFromYAMLPartialKeepsDefaults(t *testing.T) {
	yamlContent := `
server_url: http://localhost:8000
concurrency: 4
`
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Concurrency != 4 {
		t.Errorf("concurrency %d, want 4", cfg.Concurrency)
	}
	if cfg.CacheTTL != 24*time.Hour {
		t.Errorf("cache ttl %v, default 24h not preserved", cfg.CacheTTL)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("retry attempts %d, default 3 not preserved", cfg.Retry.Attempts)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PLYFETCH_SERVER_URL", "http://10.0.0.5:8000")
	t.Setenv("PLYFETCH_CONCURRENCY", "12")
	t.Setenv("PLYFETCH_CACHE_TTL", "1h")
	t.Setenv("PLYFETCH_RETRY_ATTEMPTS", "7")
	t.Setenv("PLYFETCH_PROGRESS", "1")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.ServerURL != "http://10.0.0.5:8000" {
		t.Errorf("server url %q", cfg.ServerURL)
	}
	if cfg.Concurrency != 12 {
		t.Errorf("concurrency %d, want 12", cfg.Concurrency)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("cache ttl %v, want 1h", cfg.CacheTTL)
	}
	if cfg.Retry.Attempts != 7 {
		t.Errorf("retry attempts %d, want 7", cfg.Retry.Attempts)
	}
	if !cfg.Progress {
		t.Error("expected progress true")
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("PLYFETCH_CONCURRENCY", "not-a-number")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("expected error for invalid PLYFETCH_CONCURRENCY")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.ServerURL = "http://localhost:8000"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing server url", func(c *Config) { c.ServerURL = "" }},
		{"missing cache dir", func(c *Config) { c.CacheDir = "" }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"zero retry attempts", func(c *Config) { c.Retry.Attempts = 0 }},
		{"zero ttl", func(c *Config) { c.CacheTTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.ServerURL = "http://localhost:8000"
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	base.ServerURL = "http://base:8000"

	merged := base.Merge(Config{
		Concurrency: 2,
		CacheTTL:    time.Hour,
	})

	if merged.ServerURL != "http://base:8000" {
		t.Errorf("server url %q, base value not preserved", merged.ServerURL)
	}
	if merged.Concurrency != 2 {
		t.Errorf("concurrency %d, want 2", merged.Concurrency)
	}
	if merged.CacheTTL != time.Hour {
		t.Errorf("cache ttl %v, want 1h", merged.CacheTTL)
	}
	if merged.Retry.Attempts != 3 {
		t.Errorf("retry attempts %d, base default not preserved", merged.Retry.Attempts)
	}
}

func TestMergeProgressOnlyEnables(t *testing.T) {
	base := Default()

	merged := base.Merge(Config{Progress: true})
	if !merged.Progress {
		t.Error("override did not enable progress")
	}

	// False is the bool zero value, so a merge never turns progress back
	// off. Disabling happens through the file or the environment.
	merged = merged.Merge(Config{})
	if !merged.Progress {
		t.Error("zero-value override disabled progress")
	}
}
