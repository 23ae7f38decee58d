// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/veilletech/sitewatch/internal/logging"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   logging.Config  `mapstructure:"logging"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Search    SearchConfig    `mapstructure:"search"`
	Store     StoreConfig     `mapstructure:"store"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Digest    DigestConfig    `mapstructure:"digest"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WatchConfig governs cycle orchestration.
type WatchConfig struct {
	ListPath       string `mapstructure:"list_path"`
	WindowDays     int    `mapstructure:"window_days"`
	SiteWorkers    int    `mapstructure:"site_workers"`
	LockPath       string `mapstructure:"lock_path"`
	LockTTLMinutes int    `mapstructure:"lock_ttl_minutes"`
	Subject        string `mapstructure:"subject"`
	Enrich         bool   `mapstructure:"enrich"`
}

// LockTTL converts the lock TTL into a duration.
func (c WatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// FetchConfig configures the page fetch client.
type FetchConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	IgnoreRobots     bool   `mapstructure:"ignore_robots"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	MaxBodyBytes     int    `mapstructure:"max_body_bytes"`
}

// Timeout converts the fetch timeout into a duration.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffInitial converts the initial backoff into a duration.
func (c FetchConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the backoff cap into a duration.
func (c FetchConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	MaxParallel     int     `mapstructure:"max_parallel"`
	NavTimeoutSec   int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS       float64 `mapstructure:"domain_qps"`
	PromotionThresh int     `mapstructure:"promotion_threshold"`
}

// NavTimeout converts the navigation timeout into a duration.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// SearchConfig configures the search provider client.
type SearchConfig struct {
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url"`
	Model             string `mapstructure:"model"`
	ContextSize       string `mapstructure:"context_size"`
	Country           string `mapstructure:"country"`
	City              string `mapstructure:"city"`
	Region            string `mapstructure:"region"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	InitialDelaySec   int    `mapstructure:"initial_delay_seconds"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_seconds"`
	MaxOutputTokens   int64  `mapstructure:"max_output_tokens"`
}

// InitialDelay converts the retry delay into a duration.
func (c SearchConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySec) * time.Second
}

// RequestTimeout converts the per-request timeout into a duration.
func (c SearchConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// StoreConfig selects and configures the memory store backend.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// SnapshotsConfig selects and configures the page snapshot archive.
type SnapshotsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PublisherConfig holds metadata for cycle event publishing.
type PublisherConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// NotifyConfig configures report delivery.
type NotifyConfig struct {
	Driver         string   `mapstructure:"driver"`
	Endpoint       string   `mapstructure:"endpoint"`
	APIKey         string   `mapstructure:"api_key"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	To             []string `mapstructure:"to"`
	CC             []string `mapstructure:"cc"`
	BCC            []string `mapstructure:"bcc"`
}

// Timeout converts the mail API timeout into a duration.
func (c NotifyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DigestConfig configures the digest endpoint and mailing.
type DigestConfig struct {
	Articles int    `mapstructure:"articles"`
	Subject  string `mapstructure:"subject"`
	Notify   bool   `mapstructure:"notify"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnvOnlyKeys(v); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

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
	v.SetDefault("logging.development", true)
	v.SetDefault("watch.list_path", "watchlist.json")
	v.SetDefault("watch.window_days", 7)
	v.SetDefault("watch.site_workers", 4)
	v.SetDefault("watch.lock_path", "data/watch.lock")
	v.SetDefault("watch.lock_ttl_minutes", 120)
	v.SetDefault("watch.subject", "Site watch report")
	v.SetDefault("watch.enrich", true)
	v.SetDefault("fetch.user_agent", "sitewatch-bot/0.1")
	v.SetDefault("fetch.ignore_robots", false)
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_initial_ms", 1000)
	v.SetDefault("fetch.backoff_max_ms", 30000)
	v.SetDefault("fetch.max_body_bytes", 2097152)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.domain_qps", 1.0)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("search.model", "gpt-4o-search-preview")
	v.SetDefault("search.context_size", "medium")
	v.SetDefault("search.max_attempts", 3)
	v.SetDefault("search.initial_delay_seconds", 5)
	v.SetDefault("search.request_timeout_seconds", 60)
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "data/memory.json")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("snapshots.enabled", true)
	v.SetDefault("snapshots.driver", "local")
	v.SetDefault("snapshots.base_dir", "data/snapshots")
	v.SetDefault("snapshots.prefix", "pages")
	v.SetDefault("notify.driver", "noop")
	v.SetDefault("notify.timeout_seconds", 10)
	v.SetDefault("digest.articles", 5)
	v.SetDefault("digest.subject", "Site watch digest")
}

// bindEnvOnlyKeys registers keys that have no default so AutomaticEnv can see
// them during Unmarshal. Secrets in particular only ever arrive this way.
func bindEnvOnlyKeys(v *viper.Viper) error {
	keys := []string{
		"auth.enabled",
		"auth.api_key",
		"logging.level",
		"search.api_key",
		"search.base_url",
		"search.country",
		"search.city",
		"search.region",
		"search.max_output_tokens",
		"store.dsn",
		"store.min_conns",
		"snapshots.bucket",
		"publisher.driver",
		"publisher.project_id",
		"publisher.topic_name",
		"notify.endpoint",
		"notify.api_key",
		"notify.to",
		"notify.cc",
		"notify.bcc",
		"digest.notify",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Watch.ListPath == "" {
		return fmt.Errorf("watch.list_path must be set")
	}
	if c.Watch.WindowDays <= 0 {
		return fmt.Errorf("watch.window_days must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Store.Driver {
	case "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must be set for the file driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be file, postgres, or memory")
	}
	if c.Snapshots.Enabled {
		switch c.Snapshots.Driver {
		case "local":
			if c.Snapshots.BaseDir == "" {
				return fmt.Errorf("snapshots.base_dir must be set for the local driver")
			}
		case "gcs":
			if c.Snapshots.Bucket == "" {
				return fmt.Errorf("snapshots.bucket must be set for the gcs driver")
			}
		case "memory":
		default:
			return fmt.Errorf("snapshots.driver must be local, gcs, or memory")
		}
	}
	switch c.Publisher.Driver {
	case "", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.TopicName == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic_name must be set for the pubsub driver")
		}
	default:
		return fmt.Errorf("publisher.driver must be pubsub, memory, or empty")
	}
	switch c.Notify.Driver {
	case "noop":
	case "mail":
		if c.Notify.Endpoint == "" {
			return fmt.Errorf("notify.endpoint must be set for the mail driver")
		}
		if len(c.Notify.To) == 0 {
			return fmt.Errorf("notify.to must list at least one recipient for the mail driver")
		}
	default:
		return fmt.Errorf("notify.driver must be mail or noop")
	}
	if c.Digest.Articles <= 0 {
		return fmt.Errorf("digest.articles must be > 0")
	}
	return nil
}
