// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PRESSDIGEST_DB_DSN.
const EnvPrefix = "PRESSDIGEST"

// Supported backends.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	DB         DBConfig         `mapstructure:"db"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig selects and configures the content and run stores.
type DBConfig struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	Name         string        `mapstructure:"name"`
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MaxConns     int32         `mapstructure:"max_conns"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// FetcherConfig controls discovery and document fetching.
type FetcherConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	ProxyEndpoint    string        `mapstructure:"proxy_endpoint"`
	ListingURL       string        `mapstructure:"listing_url"`
	LinkContains     string        `mapstructure:"link_contains"`
	MaxListingPages  int           `mapstructure:"max_listing_pages"`
	UserAgent        string        `mapstructure:"user_agent"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RespectRobots    bool          `mapstructure:"respect_robots"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	Burst            int           `mapstructure:"burst"`
	RenderListing    bool          `mapstructure:"render_listing"`
	FallbackLocators []string      `mapstructure:"fallback_locators"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
}

// HeadlessConfig configures local listing rendering through Chrome.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// SummarizerConfig describes the Ollama backend.
type SummarizerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	MaxInputRunes int           `mapstructure:"max_input_runes"`
}

// PipelineConfig controls run sizing and scheduling.
type PipelineConfig struct {
	ItemLimit    int           `mapstructure:"item_limit"`
	BatchSize    int           `mapstructure:"batch_size"`
	Interval     time.Duration `mapstructure:"interval"`
	RunOnStart   bool          `mapstructure:"run_on_start"`
	RecentWindow time.Duration `mapstructure:"recent_window"`
}

// ArchiveConfig selects where raw payloads are kept.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// Load builds a Config from defaults, an optional file and the environment.
// With an empty path the working directory and /etc/pressdigest are searched
// for config.yaml; a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pressdigest/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("logging.level", "info")

	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.host", "postgres")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "dagster")
	v.SetDefault("db.password", "dagster")
	v.SetDefault("db.name", "news_pipeline")
	v.SetDefault("db.sqlite_path", "data/pressdigest.db")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.query_timeout", "5s")

	v.SetDefault("fetcher.api_key", "")
	v.SetDefault("fetcher.proxy_endpoint", "https://app.scrapingbee.com/api/v1/")
	v.SetDefault("fetcher.listing_url", "https://www.sec.gov/newsroom/press-releases")
	v.SetDefault("fetcher.link_contains", "press-release")
	v.SetDefault("fetcher.max_listing_pages", 5)
	v.SetDefault("fetcher.user_agent", "press-digest/0.1")
	v.SetDefault("fetcher.timeout", "30s")
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("fetcher.rate_per_second", 2)
	v.SetDefault("fetcher.burst", 1)
	v.SetDefault("fetcher.render_listing", false)
	v.SetDefault("fetcher.fallback_locators", []string{})
	v.SetDefault("fetcher.max_attempts", 3)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.navigation_timeout", "45s")

	v.SetDefault("summarizer.host", "ollama")
	v.SetDefault("summarizer.port", 11434)
	v.SetDefault("summarizer.model", "qwen2.5:0.5b")
	v.SetDefault("summarizer.timeout", "30s")
	v.SetDefault("summarizer.health_timeout", "5s")
	v.SetDefault("summarizer.max_input_runes", 2000)

	v.SetDefault("pipeline.item_limit", 10)
	v.SetDefault("pipeline.batch_size", 10)
	v.SetDefault("pipeline.interval", "15m")
	v.SetDefault("pipeline.run_on_start", true)
	v.SetDefault("pipeline.recent_window", "720h")

	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.base_dir", "data/raw")
	v.SetDefault("archive.gcs_bucket", "")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DSN == "" && c.DB.Host == "" {
			return fmt.Errorf("db.dsn or db.host must be set for the postgres driver")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.DB.SQLitePath) == "" {
			return fmt.Errorf("db.sqlite_path must be set for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	if c.Fetcher.ListingURL == "" {
		return fmt.Errorf("fetcher.listing_url must be set")
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.Fetcher.MaxListingPages <= 0 {
		return fmt.Errorf("fetcher.max_listing_pages must be > 0")
	}
	if c.Fetcher.RenderListing && c.Fetcher.APIKey == "" && !c.Headless.Enabled {
		return fmt.Errorf("fetcher.render_listing needs fetcher.api_key or headless.enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Summarizer.Model == "" {
		return fmt.Errorf("summarizer.model must be set")
	}
	if c.Pipeline.ItemLimit <= 0 {
		return fmt.Errorf("pipeline.item_limit must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Pipeline.Interval <= 0 {
		return fmt.Errorf("pipeline.interval must be > 0")
	}
	switch c.Archive.Backend {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}
