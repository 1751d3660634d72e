// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs engine-level crawl behavior.
type CrawlerConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	SitemapTimeoutSeconds int    `mapstructure:"sitemap_timeout_seconds"`
}

// QueueConfig bounds the dispatch queue.
type QueueConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// HeadlessConfig configures the headless rendering driver. When disabled
// the engine falls back to the static HTTP driver.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// RetentionConfig gates the optional TTL sweep of finished jobs.
type RetentionConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	TTLMinutes           int  `mapstructure:"ttl_minutes"`
	SweepIntervalMinutes int  `mapstructure:"sweep_interval_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLD")
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
	v.SetDefault("crawler.user_agent", "crawld-bot/0.1")
	v.SetDefault("crawler.sitemap_timeout_seconds", 30)
	v.SetDefault("queue.max_depth", 0)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.ttl_minutes", 60)
	v.SetDefault("retention.sweep_interval_minutes", 10)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Queue.MaxDepth < 0 {
		return fmt.Errorf("queue.max_depth must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Retention.Enabled && c.Retention.TTLMinutes <= 0 {
		return fmt.Errorf("retention.ttl_minutes must be > 0 when retention is enabled")
	}
	return nil
}

// SitemapTimeout returns the sitemap fetch budget as a duration.
func (c Config) SitemapTimeout() time.Duration {
	return time.Duration(c.Crawler.SitemapTimeoutSeconds) * time.Second
}

// RetentionTTL returns the terminal-job TTL as a duration.
func (c Config) RetentionTTL() time.Duration {
	return time.Duration(c.Retention.TTLMinutes) * time.Minute
}

// SweepInterval returns how often the retention sweep runs.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Retention.SweepIntervalMinutes) * time.Minute
}
