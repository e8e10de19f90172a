// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scholar-ingest/internal/storage/local"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Broker        BrokerConfig        `mapstructure:"broker"`
	Consumer      ConsumerConfig      `mapstructure:"consumer"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Scholar       ScholarConfig       `mapstructure:"scholar"`
	Bibliographic BibliographicConfig `mapstructure:"bibliographic"`
	Similarity    SimilarityConfig    `mapstructure:"similarity"`
	Storage       StorageConfig       `mapstructure:"storage"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DatabaseConfig selects Postgres persistence. An empty DSN keeps everything in memory.
type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// BrokerConfig configures the job queue transport.
type BrokerConfig struct {
	Backend               string `mapstructure:"backend"`
	ProjectID             string `mapstructure:"project_id"`
	Queue                 string `mapstructure:"queue"`
	DeadLetterQueue       string `mapstructure:"dead_letter_queue"`
	SubscriptionSuffix    string `mapstructure:"subscription_suffix"`
	ReconnectDelaySeconds int    `mapstructure:"reconnect_delay_seconds"`
	PublishTimeoutSeconds int    `mapstructure:"publish_timeout_seconds"`
	CreateMissing         bool   `mapstructure:"create_missing"`
	MemoryCapacity        int    `mapstructure:"memory_capacity"`
}

// ConsumerConfig governs job execution.
type ConsumerConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Concurrency       int    `mapstructure:"concurrency"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	JobTimeoutSeconds int    `mapstructure:"job_timeout_seconds"`
	FailFastDetails   bool   `mapstructure:"fail_fast_details"`
	ArchivePrefix     string `mapstructure:"archive_prefix"`
}

// SchedulerConfig controls the recrawl trigger.
type SchedulerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	IntervalHours int  `mapstructure:"interval_hours"`
	RunOnStart    bool `mapstructure:"run_on_start"`
}

// ScholarConfig configures the profile scraper.
type ScholarConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	MaxParallel           int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds     int    `mapstructure:"nav_timeout_seconds"`
	MaxPagination         int    `mapstructure:"max_pagination"`
	ClickWaitMillis       int    `mapstructure:"click_wait_ms"`
	DetailFetcher         string `mapstructure:"detail_fetcher"`
	DetailDelayMillis     int    `mapstructure:"detail_delay_ms"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// BibliographicConfig configures the search API client.
type BibliographicConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	APIKey                string `mapstructure:"api_key"`
	Country               string `mapstructure:"country"`
	PageSize              int    `mapstructure:"page_size"`
	MaxResults            int    `mapstructure:"max_results"`
	PageDelayMillis       int    `mapstructure:"page_delay_ms"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// SimilarityConfig holds the values seeded into the system document on first boot.
type SimilarityConfig struct {
	MatchingThreshold    float64 `mapstructure:"matching_threshold"`
	NotMatchingThreshold float64 `mapstructure:"not_matching_threshold"`
	DefaultQuery         string  `mapstructure:"default_query"`
}

// StorageConfig selects where raw payloads are archived.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Bucket  string       `mapstructure:"bucket"`
	Local   local.Config `mapstructure:"local"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHOLAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("broker.backend", "memory")
	v.SetDefault("broker.project_id", "")
	v.SetDefault("broker.queue", "crawl-jobs")
	v.SetDefault("broker.dead_letter_queue", "crawl-jobs-dead-letter")
	v.SetDefault("broker.subscription_suffix", "-consumer")
	v.SetDefault("broker.reconnect_delay_seconds", 5)
	v.SetDefault("broker.publish_timeout_seconds", 10)
	v.SetDefault("broker.create_missing", false)
	v.SetDefault("broker.memory_capacity", 256)
	v.SetDefault("consumer.enabled", true)
	v.SetDefault("consumer.concurrency", 1)
	v.SetDefault("consumer.max_attempts", 5)
	v.SetDefault("consumer.job_timeout_seconds", 1800)
	v.SetDefault("consumer.fail_fast_details", false)
	v.SetDefault("consumer.archive_prefix", "raw")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_hours", 24)
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scholar.user_agent", "Mozilla/5.0 (X11; Linux x86_64) scholar-ingest/0.1")
	v.SetDefault("scholar.max_parallel", 1)
	v.SetDefault("scholar.nav_timeout_seconds", 45)
	v.SetDefault("scholar.max_pagination", 200)
	v.SetDefault("scholar.click_wait_ms", 1000)
	v.SetDefault("scholar.detail_fetcher", "colly")
	v.SetDefault("scholar.detail_delay_ms", 1000)
	v.SetDefault("scholar.request_timeout_seconds", 20)
	v.SetDefault("bibliographic.base_url", "https://api.elsevier.com/content/search/scopus")
	v.SetDefault("bibliographic.api_key", "")
	v.SetDefault("bibliographic.country", "")
	v.SetDefault("bibliographic.page_size", 25)
	v.SetDefault("bibliographic.max_results", 2000)
	v.SetDefault("bibliographic.page_delay_ms", 500)
	v.SetDefault("bibliographic.request_timeout_seconds", 30)
	v.SetDefault("similarity.matching_threshold", 0.95)
	v.SetDefault("similarity.not_matching_threshold", 0.5)
	v.SetDefault("similarity.default_query", "")
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.local.base_dir", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Broker.Backend {
	case "memory":
	case "pubsub":
		if c.Broker.ProjectID == "" {
			return fmt.Errorf("broker.project_id is required for the pubsub backend")
		}
	default:
		return fmt.Errorf("broker.backend must be memory or pubsub, got %q", c.Broker.Backend)
	}
	if strings.TrimSpace(c.Broker.Queue) == "" {
		return fmt.Errorf("broker.queue is required")
	}
	if c.Broker.ReconnectDelaySeconds <= 0 {
		return fmt.Errorf("broker.reconnect_delay_seconds must be > 0")
	}
	if c.Consumer.Concurrency <= 0 {
		return fmt.Errorf("consumer.concurrency must be > 0")
	}
	if c.Consumer.MaxAttempts <= 0 {
		return fmt.Errorf("consumer.max_attempts must be > 0")
	}
	if c.Consumer.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("consumer.job_timeout_seconds must be > 0")
	}
	if c.Scheduler.IntervalHours <= 0 {
		return fmt.Errorf("scheduler.interval_hours must be > 0")
	}
	if c.Scholar.MaxPagination <= 0 {
		return fmt.Errorf("scholar.max_pagination must be > 0")
	}
	switch c.Scholar.DetailFetcher {
	case "colly", "chromedp":
	default:
		return fmt.Errorf("scholar.detail_fetcher must be colly or chromedp, got %q", c.Scholar.DetailFetcher)
	}
	if c.Bibliographic.APIKey != "" && c.Bibliographic.Country == "" {
		return fmt.Errorf("bibliographic.country is required when bibliographic.api_key is set")
	}
	if c.Bibliographic.PageSize <= 0 || c.Bibliographic.MaxResults < c.Bibliographic.PageSize {
		return fmt.Errorf("bibliographic.page_size must be > 0 and <= bibliographic.max_results")
	}
	if c.Similarity.MatchingThreshold <= 0 || c.Similarity.MatchingThreshold > 1 {
		return fmt.Errorf("similarity.matching_threshold must be in (0, 1]")
	}
	if c.Similarity.NotMatchingThreshold < 0 || c.Similarity.NotMatchingThreshold > c.Similarity.MatchingThreshold {
		return fmt.Errorf("similarity.not_matching_threshold must be in [0, similarity.matching_threshold]")
	}
	switch c.Storage.Backend {
	case "none", "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be none, memory, local or gcs, got %q", c.Storage.Backend)
	}
	return nil
}

// RequestTimeout is the HTTP handler budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// JobTimeout is the deadline applied to one job attempt.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Consumer.JobTimeoutSeconds) * time.Second
}

// ReconnectDelay is the fixed wait between broker reconnect attempts.
func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Broker.ReconnectDelaySeconds) * time.Second
}

// PublishTimeout bounds a single intake publish.
func (c Config) PublishTimeout() time.Duration {
	return time.Duration(c.Broker.PublishTimeoutSeconds) * time.Second
}

// SchedulerInterval is the time between scheduler runs.
func (c Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalHours) * time.Hour
}

// PageDelay is the minimum gap between bibliographic page requests.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Bibliographic.PageDelayMillis) * time.Millisecond
}
