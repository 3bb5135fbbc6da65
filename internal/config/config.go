// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	DB         DBConfig         `mapstructure:"db"`
	Renderer   RendererConfig   `mapstructure:"renderer"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Chapters   ChaptersConfig   `mapstructure:"chapters"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Translator TranslatorConfig `mapstructure:"translator"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Ops        OpsConfig        `mapstructure:"ops"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DBConfig controls access to the Postgres record store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RendererConfig configures the headless rendering subsystem.
type RendererConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	MaxParallel    int     `mapstructure:"max_parallel"`
	NavTimeoutSec  int     `mapstructure:"nav_timeout_seconds"`
	SettleDelaySec int     `mapstructure:"settle_delay_seconds"`
	DomainQPS      float64 `mapstructure:"domain_qps"`
	BlockResources bool    `mapstructure:"block_resources"`
}

// CatalogConfig governs the ID-space enumeration and the listing walker.
type CatalogConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ProbeURL     string  `mapstructure:"probe_url"` // printf template with one %d
	StartID      int64   `mapstructure:"start_id"`  // 0 means resume from checkpoint
	BatchSize    int     `mapstructure:"batch_size"`
	MaxMisses    int     `mapstructure:"max_consecutive_misses"`
	ProbeQPS     float64 `mapstructure:"probe_qps"`
	ListingURL   string  `mapstructure:"listing_url"`
	ListingPages int     `mapstructure:"listing_pages"`
}

// ChaptersConfig governs per-source chapter discovery.
type ChaptersConfig struct {
	MaxExpandPolls int `mapstructure:"max_expand_polls"`
	PollDelayMs    int `mapstructure:"poll_delay_ms"`
}

// ExtractConfig governs content extraction.
type ExtractConfig struct {
	BatchLimit    int `mapstructure:"batch_limit"`
	MinContentLen int `mapstructure:"min_content_len"`
}

// TranslatorConfig configures the external translation capability.
type TranslatorConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TargetLanguage string `mapstructure:"target_language"`
	BatchLimit     int    `mapstructure:"batch_limit"`
	TimeoutSec     int    `mapstructure:"timeout_seconds"`
}

// HarvestConfig drives the cycle scheduler.
type HarvestConfig struct {
	IntervalSec int `mapstructure:"interval_seconds"`
}

// CheckpointConfig locates the durable enumeration cursor.
type CheckpointConfig struct {
	Dir string `mapstructure:"dir"`
}

// ArchiveConfig controls the failed-extraction HTML sink.
type ArchiveConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// OpsConfig controls the health/metrics HTTP surface.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("renderer.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	v.SetDefault("renderer.max_parallel", 1)
	v.SetDefault("renderer.nav_timeout_seconds", 45)
	v.SetDefault("renderer.settle_delay_seconds", 3)
	v.SetDefault("renderer.domain_qps", 2.0)
	v.SetDefault("renderer.block_resources", true)
	v.SetDefault("catalog.enabled", true)
	v.SetDefault("catalog.batch_size", 100)
	v.SetDefault("catalog.max_consecutive_misses", 50)
	v.SetDefault("catalog.probe_qps", 3.0)
	v.SetDefault("catalog.listing_pages", 0)
	v.SetDefault("chapters.max_expand_polls", 10)
	v.SetDefault("chapters.poll_delay_ms", 500)
	v.SetDefault("extract.batch_limit", 5)
	v.SetDefault("extract.min_content_len", 800)
	v.SetDefault("translator.target_language", "es")
	v.SetDefault("translator.batch_limit", 3)
	v.SetDefault("translator.timeout_seconds", 120)
	v.SetDefault("harvest.interval_seconds", 60)
	v.SetDefault("checkpoint.dir", "data/checkpoints")
	v.SetDefault("archive.dir", "data/failed")
	v.SetDefault("archive.max_bytes", 5*1024*1024)
	v.SetDefault("ops.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Renderer.MaxParallel <= 0 {
		return fmt.Errorf("renderer.max_parallel must be > 0")
	}
	if c.Renderer.NavTimeoutSec <= 0 {
		return fmt.Errorf("renderer.nav_timeout_seconds must be > 0")
	}
	if c.Catalog.Enabled {
		if c.Catalog.ProbeURL == "" {
			return fmt.Errorf("catalog.probe_url must be set when catalog is enabled")
		}
		if !strings.Contains(c.Catalog.ProbeURL, "%d") {
			return fmt.Errorf("catalog.probe_url must contain a %%d id placeholder")
		}
		if c.Catalog.BatchSize <= 0 {
			return fmt.Errorf("catalog.batch_size must be > 0")
		}
		if c.Catalog.MaxMisses <= 0 {
			return fmt.Errorf("catalog.max_consecutive_misses must be > 0")
		}
	}
	if c.Chapters.MaxExpandPolls <= 0 {
		return fmt.Errorf("chapters.max_expand_polls must be > 0")
	}
	if c.Extract.BatchLimit <= 0 {
		return fmt.Errorf("extract.batch_limit must be > 0")
	}
	if c.Extract.MinContentLen <= 0 {
		return fmt.Errorf("extract.min_content_len must be > 0")
	}
	if c.Translator.Endpoint != "" && c.Translator.APIKey == "" {
		return fmt.Errorf("translator.api_key must be set when translator.endpoint is set")
	}
	if c.Translator.BatchLimit <= 0 {
		return fmt.Errorf("translator.batch_limit must be > 0")
	}
	if c.Harvest.IntervalSec <= 0 {
		return fmt.Errorf("harvest.interval_seconds must be > 0")
	}
	if c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0")
	}
	return nil
}

// NavTimeout converts the renderer navigation timeout to a duration.
func (c RendererConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// SettleDelay converts the renderer settle delay to a duration.
func (c RendererConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelaySec) * time.Second
}

// Interval converts the harvest interval to a duration.
func (c HarvestConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// Timeout converts the translator timeout to a duration.
func (c TranslatorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// PollDelay converts the expand-poll delay to a duration.
func (c ChaptersConfig) PollDelay() time.Duration {
	return time.Duration(c.PollDelayMs) * time.Millisecond
}
