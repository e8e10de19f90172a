package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Broker.Backend != "memory" || cfg.Broker.Queue != "crawl-jobs" {
		t.Fatalf("unexpected broker defaults: %+v", cfg.Broker)
	}
	if got := cfg.ReconnectDelay(); got != 5*time.Second {
		t.Fatalf("expected 5s reconnect delay, got %v", got)
	}
	if cfg.Bibliographic.PageSize != 25 || cfg.Bibliographic.MaxResults != 2000 {
		t.Fatalf("unexpected bibliographic defaults: %+v", cfg.Bibliographic)
	}
	if got := cfg.PageDelay(); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms page delay, got %v", got)
	}
	if cfg.Similarity.MatchingThreshold != 0.95 || cfg.Similarity.NotMatchingThreshold != 0.5 {
		t.Fatalf("unexpected similarity defaults: %+v", cfg.Similarity)
	}
	if got := cfg.SchedulerInterval(); got != 24*time.Hour {
		t.Fatalf("expected daily scheduler, got %v", got)
	}
	if cfg.Storage.Backend != "none" {
		t.Fatalf("expected archive disabled by default, got %q", cfg.Storage.Backend)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
broker:
  backend: pubsub
  project_id: demo
  queue: jobs
  reconnect_delay_seconds: 2
consumer:
  concurrency: 3
  max_attempts: 2
  job_timeout_seconds: 60
scholar:
  detail_fetcher: chromedp
  max_pagination: 10
bibliographic:
  api_key: key
  country: Portugal
similarity:
  matching_threshold: 0.9
  not_matching_threshold: 0.4
storage:
  backend: local
  local:
    base_dir: /tmp/archive
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Broker.Backend != "pubsub" || cfg.Broker.ProjectID != "demo" || cfg.Broker.Queue != "jobs" {
		t.Fatalf("expected broker overrides: %+v", cfg.Broker)
	}
	if cfg.Consumer.Concurrency != 3 || cfg.Consumer.MaxAttempts != 2 {
		t.Fatalf("expected consumer overrides: %+v", cfg.Consumer)
	}
	if got := cfg.JobTimeout(); got != time.Minute {
		t.Fatalf("expected job timeout 1m, got %v", got)
	}
	if cfg.Scholar.DetailFetcher != "chromedp" || cfg.Scholar.MaxPagination != 10 {
		t.Fatalf("expected scholar overrides: %+v", cfg.Scholar)
	}
	if cfg.Storage.Local.BaseDir != "/tmp/archive" {
		t.Fatalf("expected local base dir, got %q", cfg.Storage.Local.BaseDir)
	}
	if cfg.Similarity.MatchingThreshold != 0.9 {
		t.Fatalf("expected threshold override, got %v", cfg.Similarity.MatchingThreshold)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"pubsub without project", func(c *Config) { c.Broker.Backend = "pubsub" }, "broker.project_id"},
		{"unknown broker", func(c *Config) { c.Broker.Backend = "kafka" }, "broker.backend"},
		{"zero reconnect", func(c *Config) { c.Broker.ReconnectDelaySeconds = 0 }, "broker.reconnect_delay_seconds"},
		{"zero concurrency", func(c *Config) { c.Consumer.Concurrency = 0 }, "consumer.concurrency"},
		{"zero attempts", func(c *Config) { c.Consumer.MaxAttempts = 0 }, "consumer.max_attempts"},
		{"zero pagination", func(c *Config) { c.Scholar.MaxPagination = 0 }, "scholar.max_pagination"},
		{"bad detail fetcher", func(c *Config) { c.Scholar.DetailFetcher = "curl" }, "scholar.detail_fetcher"},
		{"api key without country", func(c *Config) { c.Bibliographic.APIKey = "k" }, "bibliographic.country"},
		{"page larger than window", func(c *Config) { c.Bibliographic.PageSize = 5000 }, "bibliographic.page_size"},
		{"threshold order", func(c *Config) { c.Similarity.NotMatchingThreshold = 0.99 }, "not_matching_threshold"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.bucket"},
		{"local without dir", func(c *Config) { c.Storage.Backend = "local" }, "storage.local.base_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
