// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Session   SessionConfig   `mapstructure:"session"`
	Frontier  FrontierConfig  `mapstructure:"frontier"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// CrawlerConfig governs seeding, the worker pool and retries.
type CrawlerConfig struct {
	MaxRedirect      int           `mapstructure:"max_redirect"`
	MaxTries         int           `mapstructure:"max_tries"`
	MaxTasks         int           `mapstructure:"max_tasks"`
	BaseEndpoint     string        `mapstructure:"base_endpoint"`
	Categories       []string      `mapstructure:"categories"`
	PageLimit        int           `mapstructure:"page_limit"`
	PostFetchDelay   time.Duration `mapstructure:"post_fetch_delay"`
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base"`
	RetryBackoffMax  time.Duration `mapstructure:"retry_backoff_max"`
	RateLimitRPS     float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
	MaxBodyBytes     int           `mapstructure:"max_body_bytes"`
}

// SessionConfig controls authentication and shared request headers.
type SessionConfig struct {
	AuthToken    string            `mapstructure:"auth_token"`
	TokenFile    string            `mapstructure:"token_file"`
	UserAgent    string            `mapstructure:"user_agent"`
	APIVersion   string            `mapstructure:"api_version"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	ExtraHeaders map[string]string `mapstructure:"extra_headers"`
}

// FrontierConfig selects the seen-set backend.
type FrontierConfig struct {
	SeenBackend string        `mapstructure:"seen_backend"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	RedisTTL    time.Duration `mapstructure:"redis_ttl"`
}

// StorageConfig selects where raw pages are archived.
type StorageConfig struct {
	Archive   string `mapstructure:"archive"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the Postgres live store. An empty DSN keeps lives in memory.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	TablePrefix  string `mapstructure:"table_prefix"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// PublisherConfig selects the event publisher.
type PublisherConfig struct {
	Backend string `mapstructure:"backend"`
	Topic   string `mapstructure:"topic"`
}

// PubSubConfig holds Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// KafkaConfig holds Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// ServerConfig controls the optional ops endpoint.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Tracing     bool   `mapstructure:"tracing"`
	ServiceName string `mapstructure:"service_name"`
}

// Backend names.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
	BackendKafka    = "kafka"
	defaultEndpoint = "https://api.zhihu.com/lives"
)

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("crawler.max_redirect", 10)
	v.SetDefault("crawler.max_tries", 4)
	v.SetDefault("crawler.max_tasks", 10)
	v.SetDefault("crawler.base_endpoint", defaultEndpoint)
	v.SetDefault("crawler.categories", []string{"ongoing", "ended"})
	v.SetDefault("crawler.page_limit", 10)
	v.SetDefault("crawler.post_fetch_delay", time.Second)
	v.SetDefault("crawler.retry_backoff_base", time.Duration(0))
	v.SetDefault("crawler.retry_backoff_max", 2*time.Second)
	v.SetDefault("crawler.rate_limit_rps", 0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.max_body_bytes", 0)
	v.SetDefault("session.auth_token", "")
	v.SetDefault("session.token_file", "")
	v.SetDefault("session.user_agent", "livecrawl/1.0")
	v.SetDefault("session.api_version", "3.0.40")
	v.SetDefault("session.timeout", 15*time.Second)
	v.SetDefault("frontier.seen_backend", BackendMemory)
	v.SetDefault("frontier.redis_addr", "")
	v.SetDefault("frontier.redis_prefix", "livecrawl:seen:")
	v.SetDefault("frontier.redis_ttl", 24*time.Hour)
	v.SetDefault("storage.archive", BackendNone)
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table_prefix", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("publisher.backend", BackendNone)
	v.SetDefault("publisher.topic", "live-ingested")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.addr", ":9090")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.service_name", "livecrawl")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.MaxTries <= 0 {
		return errors.New("crawler.max_tries must be > 0")
	}
	if c.Crawler.MaxTasks <= 0 {
		return errors.New("crawler.max_tasks must be > 0")
	}
	if c.Crawler.MaxRedirect < 0 {
		return errors.New("crawler.max_redirect must be >= 0")
	}
	if c.Crawler.PageLimit <= 0 {
		return errors.New("crawler.page_limit must be > 0")
	}
	if c.Crawler.PostFetchDelay < 0 {
		return errors.New("crawler.post_fetch_delay must be >= 0")
	}
	if len(c.Crawler.Categories) == 0 {
		return errors.New("crawler.categories must not be empty")
	}
	if u, err := url.Parse(c.Crawler.BaseEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("crawler.base_endpoint %q is not an absolute URL", c.Crawler.BaseEndpoint)
	}

	switch c.Frontier.SeenBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Frontier.RedisAddr == "" {
			return errors.New("frontier.redis_addr must be set for the redis seen backend")
		}
	default:
		return fmt.Errorf("unknown frontier.seen_backend %q", c.Frontier.SeenBackend)
	}

	switch c.Storage.Archive {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set for the local archive")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("unknown storage.archive %q", c.Storage.Archive)
	}

	switch c.Publisher.Backend {
	case BackendNone:
	case BackendMemory:
	case BackendPubSub:
		if c.PubSub.ProjectID == "" {
			return errors.New("pubsub.project_id must be set for the pubsub publisher")
		}
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers must be set for the kafka publisher")
		}
	default:
		return fmt.Errorf("unknown publisher.backend %q", c.Publisher.Backend)
	}
	if c.Publisher.Backend != BackendNone && c.Publisher.Topic == "" {
		return errors.New("publisher.topic must be set when a publisher is enabled")
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		return errors.New("server.addr must be set when the ops server is enabled")
	}
	return nil
}

// Seeds expands the configured categories into the initial frontier URLs.
func (c CrawlerConfig) Seeds() []string {
	return crawler.SeedURLs(c.BaseEndpoint, c.Categories, c.MaxTasks, c.PageLimit)
}
