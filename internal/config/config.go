// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Ops      OpsConfig      `mapstructure:"ops"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Docparse DocparseConfig `mapstructure:"docparse"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sources  []SourceConfig `mapstructure:"sources"`
}

// SourceConfig declares one crawl source for the seed command. Region is
// the agency's service area; leave it empty for nationwide portals.
type SourceConfig struct {
	Agency     string `mapstructure:"agency"`
	ListingURL string `mapstructure:"listing_url"`
	Family     string `mapstructure:"family"`
	Region     string `mapstructure:"region"`
}

// OpsConfig controls the health/metrics listener.
type OpsConfig struct {
	Addr string `mapstructure:"addr"`
}

// CrawlerConfig governs the crawl pipeline.
type CrawlerConfig struct {
	WindowHours     int     `mapstructure:"window_hours"`
	MaxPages        int     `mapstructure:"max_pages"`
	PerSiteQPS      float64 `mapstructure:"per_site_qps"`
	UserAgent       string  `mapstructure:"user_agent"`
	ThrottleSeconds int     `mapstructure:"throttle_seconds"`
	MaxAttachments  int     `mapstructure:"max_attachments"`
	MaxAttachmentMB int     `mapstructure:"max_attachment_mb"`
	TestModeCap     int     `mapstructure:"test_mode_cap"`
	ExtractMaxChars int     `mapstructure:"extract_max_chars"`
}

// HTTPConfig configures plain HTTP fetching.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// BrowserConfig configures the headless fallback for WAF-fronted sites.
type BrowserConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	NavTimeoutSec int      `mapstructure:"nav_timeout_seconds"`
	Hosts         []string `mapstructure:"hosts"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// StorageConfig sets the bucket for attachment blobs.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for needs-embedding notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// OpenAIConfig configures the enrichment model. Empty APIKey disables it.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// DocparseConfig points at the external document parsing service.
// Empty BaseURL falls back to local extraction only.
type DocparseConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
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
	v.SetDefault("ops.addr", ":8080")
	v.SetDefault("crawler.window_hours", 168)
	v.SetDefault("crawler.max_pages", 40)
	v.SetDefault("crawler.per_site_qps", 0.5)
	v.SetDefault("crawler.user_agent", "support-crawler/1.0")
	v.SetDefault("crawler.throttle_seconds", 2)
	v.SetDefault("crawler.max_attachments", 10)
	v.SetDefault("crawler.max_attachment_mb", 50)
	v.SetDefault("crawler.test_mode_cap", 0)
	v.SetDefault("crawler.extract_max_chars", 20000)
	v.SetDefault("http.timeout_seconds", 30)
	// Matches fetch.DefaultRetryPolicy: three attempts, 1s base, 8s cap.
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.hosts", []string{"www.bizinfo.go.kr", "www.k-startup.go.kr"})
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("logging.development", false)

	// Keys with no useful default still need registering so that
	// AutomaticEnv feeds them through Unmarshal.
	v.SetDefault("db.dsn", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("docparse.base_url", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Crawler.WindowHours <= 0 {
		return fmt.Errorf("crawler.window_hours must be > 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.PerSiteQPS <= 0 {
		return fmt.Errorf("crawler.per_site_qps must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Browser.Enabled && c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0 when the browser is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// HTTPTimeout converts the configured HTTP timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ThrottleDelay is the pause taken after attachment-heavy projects.
func (c Config) ThrottleDelay() time.Duration {
	return time.Duration(c.Crawler.ThrottleSeconds) * time.Second
}

// MaxAttachmentBytes converts the attachment size cap into bytes.
func (c Config) MaxAttachmentBytes() int64 {
	return int64(c.Crawler.MaxAttachmentMB) << 20
}
