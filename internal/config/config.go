// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/archive-crawler/internal/crawler"
)

// Export providers accepted by export.provider.
const (
	ExportNone  = "none"
	ExportLocal = "local"
	ExportGCS   = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	DB      DBConfig      `mapstructure:"db"`
	Export  ExportConfig  `mapstructure:"export"`
}

// CrawlerConfig governs the target site and politeness.
type CrawlerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	Delay          time.Duration `mapstructure:"delay"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
}

// RetryConfig configures the per-request retry budgets.
type RetryConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"`
	RateLimitedBackoff  time.Duration `mapstructure:"rate_limited_backoff"`
	StatusBackoff       time.Duration `mapstructure:"status_backoff"`
	NetworkBackoff      time.Duration `mapstructure:"network_backoff"`
	ListingMaxRetries   int           `mapstructure:"listing_max_retries"`
	ListingLimitRetries int           `mapstructure:"listing_rate_limited_retries"`
	ListingRateLimited  time.Duration `mapstructure:"listing_rate_limited_backoff"`
	ListingBackoff      time.Duration `mapstructure:"listing_backoff"`
	ListingAttempts     int           `mapstructure:"listing_attempts"`
	BookmarksMaxRetries int           `mapstructure:"bookmarks_max_retries"`
}

// OutputConfig controls where relative output paths land.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig enables the status server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DBConfig controls the optional run history database.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// ExportConfig selects where finished output files are copied.
type ExportConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	BaseDir  string `mapstructure:"base_dir"`
	Prefix   string `mapstructure:"prefix"`
}

// Load builds a Config from disk/environment. With an empty path the
// working directory and $HOME/.archive-crawler are searched for
// config.yaml; a missing file there is not an error.
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
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.archive-crawler")
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
	item := crawler.DefaultItemPolicy()
	listing := crawler.DefaultListingPolicy()
	walker := crawler.DefaultWalkerConfig()
	v.SetDefault("crawler.base_url", "https://archiveofourown.org")
	v.SetDefault("crawler.user_agent", "archive-crawler/1.0")
	v.SetDefault("crawler.delay", crawler.DefaultDelay)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.request_timeout", 60*time.Second)
	v.SetDefault("crawler.max_body_bytes", 0)
	v.SetDefault("retry.max_retries", item.MaxRetries)
	v.SetDefault("retry.rate_limited_backoff", item.RateLimitedBackoff)
	v.SetDefault("retry.status_backoff", item.StatusBackoff)
	v.SetDefault("retry.network_backoff", item.NetworkBackoff)
	v.SetDefault("retry.listing_max_retries", listing.MaxRetries)
	v.SetDefault("retry.listing_rate_limited_retries", listing.RateLimitedRetries)
	v.SetDefault("retry.listing_rate_limited_backoff", listing.RateLimitedBackoff)
	v.SetDefault("retry.listing_backoff", walker.AttemptBackoff)
	v.SetDefault("retry.listing_attempts", walker.Attempts)
	v.SetDefault("retry.bookmarks_max_retries", crawler.DefaultBookmarkPolicy().MaxRetries)
	v.SetDefault("output.dir", ".")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("db.table_prefix", "crawl_")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("export.provider", ExportNone)
	v.SetDefault("export.prefix", "runs")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url is required")
	}
	if c.Crawler.Delay < 0 {
		return fmt.Errorf("crawler.delay must be >= 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Retry.MaxRetries < 0 || c.Retry.ListingMaxRetries < 0 ||
		c.Retry.ListingLimitRetries < 0 || c.Retry.BookmarksMaxRetries < 0 {
		return fmt.Errorf("retry budgets must be >= 0")
	}
	if c.Retry.ListingAttempts <= 0 {
		return fmt.Errorf("retry.listing_attempts must be > 0")
	}
	switch c.Export.Provider {
	case "", ExportNone:
	case ExportLocal:
		if c.Export.BaseDir == "" {
			return fmt.Errorf("export.base_dir must be set when export.provider is local")
		}
	case ExportGCS:
		if c.Export.Bucket == "" {
			return fmt.Errorf("export.bucket must be set when export.provider is gcs")
		}
	default:
		return fmt.Errorf("export.provider %q is not one of none, local, gcs", c.Export.Provider)
	}
	return nil
}

// ItemPolicy is the retry policy for work pages.
func (c Config) ItemPolicy() crawler.RetryPolicy {
	return crawler.RetryPolicy{
		MaxRetries:         c.Retry.MaxRetries,
		RateLimitedBackoff: c.Retry.RateLimitedBackoff,
		StatusBackoff:      c.Retry.StatusBackoff,
		NetworkBackoff:     c.Retry.NetworkBackoff,
	}
}

// ListingPolicy is the transport retry policy for listing pages.
func (c Config) ListingPolicy() crawler.RetryPolicy {
	return crawler.RetryPolicy{
		MaxRetries:         c.Retry.ListingMaxRetries,
		RateLimitedRetries: c.Retry.ListingLimitRetries,
		RateLimitedBackoff: c.Retry.ListingRateLimited,
		StatusBackoff:      c.Retry.ListingBackoff,
		NetworkBackoff:     c.Retry.ListingBackoff,
	}
}

// BookmarkPolicy is the per-page policy of the bookmarks sub-walk.
func (c Config) BookmarkPolicy() crawler.RetryPolicy {
	return crawler.RetryPolicy{
		MaxRetries:         c.Retry.BookmarksMaxRetries,
		RateLimitedBackoff: c.Retry.ListingRateLimited,
		StatusBackoff:      c.Retry.ListingBackoff,
		NetworkBackoff:     c.Retry.ListingBackoff,
	}
}

// Engine converts the loaded values into the crawl engine settings.
func (c Config) Engine() crawler.Config {
	return crawler.Config{
		Delay:          c.Crawler.Delay,
		ItemPolicy:     c.ItemPolicy(),
		ListingPolicy:  c.ListingPolicy(),
		BookmarkPolicy: c.BookmarkPolicy(),
		Walker: crawler.WalkerConfig{
			Attempts:       c.Retry.ListingAttempts,
			AttemptBackoff: c.Retry.ListingBackoff,
		},
	}
}
