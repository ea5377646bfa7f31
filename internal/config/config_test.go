package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	v, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg, err := ParseConfig(v)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Queue.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", cfg.Queue.Attempts)
	}
	if cfg.Queue.BackoffBase != 5*time.Second {
		t.Fatalf("backoff = %s, want 5s", cfg.Queue.BackoffBase)
	}
	if cfg.Queue.VisibilityTimeout != 2*time.Minute {
		t.Fatalf("visibility = %s, want 2m", cfg.Queue.VisibilityTimeout)
	}
	if got := len(cfg.Transcode.Resolutions); got != 3 {
		t.Fatalf("resolutions = %v", cfg.Transcode.Resolutions)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	body := []byte(`
queue:
  attempts: 5
  backoffbase: 2s
transcode:
  resolutions: ["720p"]
worker:
  resolution: 360p
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WORKER_RESOLUTION", "1080p")

	v, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg, err := ParseConfig(v)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Queue.Attempts != 5 || cfg.Queue.BackoffBase != 2*time.Second {
		t.Fatalf("queue config not read from file: %+v", cfg.Queue)
	}
	if cfg.Worker.Resolution != "1080p" {
		t.Fatalf("env override ignored, resolution = %q", cfg.Worker.Resolution)
	}
	if len(cfg.Transcode.Resolutions) != 1 || cfg.Transcode.Resolutions[0] != "720p" {
		t.Fatalf("resolutions = %v", cfg.Transcode.Resolutions)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero attempts", func(c *Config) { c.Queue.Attempts = 0 }},
		{"no visibility", func(c *Config) { c.Queue.VisibilityTimeout = 0 }},
		{"no resolutions", func(c *Config) { c.Transcode.Resolutions = nil }},
		{"bad provider", func(c *Config) { c.ObjectStore.Provider = "ftp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Config{
				Queue:       QueueConfig{Attempts: 3, VisibilityTimeout: time.Minute},
				Transcode:   TranscodeConfig{Resolutions: []string{"360p"}},
				ObjectStore: ObjectStoreConfig{Provider: "s3"},
			}
			if err := c.Validate(); err != nil {
				t.Fatalf("baseline invalid: %v", err)
			}
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
