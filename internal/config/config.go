package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultFeedURL is the FSA open-data blob holding the full English FHRS extract.
const DefaultFeedURL = "https://safhrsprodstorage.blob.core.windows.net/opendatafileblobstorage/FHRS_All_en-GB.csv"

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Feed       FeedConfig       `yaml:"feed" mapstructure:"feed"`
	Refresh    RefreshConfig    `yaml:"refresh" mapstructure:"refresh"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FeedConfig configures where the FHRS CSV comes from and where it is cached.
type FeedConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	CachePath   string `yaml:"cache_path" mapstructure:"cache_path"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	// RequestsPerMinute caps requests to the feed host; 0 disables the limit.
	RequestsPerMinute float64 `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// Timeout returns the remote fetch timeout.
func (f FeedConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// RefreshConfig configures the refresh job.
type RefreshConfig struct {
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size"`
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`
	OnStart      bool          `yaml:"on_start" mapstructure:"on_start"`
	VerboseSkips bool          `yaml:"verbose_skips" mapstructure:"verbose_skips"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins   []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimitRPS     float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst   int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	ReadTimeoutSecs  int      `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs int      `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
	TileMinZoom      int      `yaml:"tile_min_zoom" mapstructure:"tile_min_zoom"`
	TileCacheEntries int      `yaml:"tile_cache_entries" mapstructure:"tile_cache_entries"`
	TileCacheTTLSecs int      `yaml:"tile_cache_ttl_secs" mapstructure:"tile_cache_ttl_secs"`
}

// MonitoringConfig configures data health alerts. Alerts are only sent when
// WebhookURL is set.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MaxDataAgeDays      int     `yaml:"max_data_age_days" mapstructure:"max_data_age_days"`
	SkipRateThreshold   float64 `yaml:"skip_rate_threshold" mapstructure:"skip_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FSAMAPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "fsa_data.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("feed.url", DefaultFeedURL)
	v.SetDefault("feed.cache_path", "FHRS_All_en-GB.csv")
	v.SetDefault("feed.timeout_secs", 60)
	v.SetDefault("feed.user_agent", "fsa-maps/1.0")
	v.SetDefault("feed.max_retries", 1)
	v.SetDefault("feed.requests_per_minute", 6.0)
	v.SetDefault("refresh.batch_size", 5120)
	v.SetDefault("refresh.interval", "0s")
	v.SetDefault("refresh.on_start", false)
	v.SetDefault("refresh.verbose_skips", false)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 10.0)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("server.read_timeout_secs", 15)
	v.SetDefault("server.write_timeout_secs", 30)
	v.SetDefault("server.tile_min_zoom", 12)
	v.SetDefault("server.tile_cache_entries", 2048)
	v.SetDefault("server.tile_cache_ttl_secs", 300)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 3600)
	v.SetDefault("monitoring.lookback_window_hours", 168)
	v.SetDefault("monitoring.max_data_age_days", 14)
	v.SetDefault("monitoring.skip_rate_threshold", 0.10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a given command depends on. Mode is one of
// "serve", "refresh", "migrate" or "status".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimitRPS <= 0 {
			errs = append(errs, "server.rate_limit_rps must be > 0")
		}
		if c.Server.RateLimitBurst < 1 {
			errs = append(errs, "server.rate_limit_burst must be >= 1")
		}
		if c.Server.TileMinZoom < 0 || c.Server.TileMinZoom > 22 {
			errs = append(errs, "server.tile_min_zoom must be between 0 and 22")
		}
		if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
			errs = append(errs, "monitoring.webhook_url is required when monitoring is enabled")
		}
		if c.Refresh.Interval < 0 {
			errs = append(errs, "refresh.interval must be >= 0")
		}
		if c.Refresh.Interval > 0 || c.Refresh.OnStart {
			errs = append(errs, c.validateRefresh()...)
		}
	case "refresh":
		errs = append(errs, c.validateRefresh()...)
	case "migrate", "status":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.New(strings.Join(errs, "; ")), "config: validation failed")
	}
	return nil
}

func (c *Config) validateRefresh() []string {
	var errs []string
	if c.Feed.CachePath == "" {
		errs = append(errs, "feed.cache_path is required")
	}
	if c.Feed.TimeoutSecs <= 0 {
		errs = append(errs, "feed.timeout_secs must be > 0")
	}
	if c.Feed.MaxRetries < 0 {
		errs = append(errs, "feed.max_retries must be >= 0")
	}
	if c.Feed.RequestsPerMinute < 0 {
		errs = append(errs, "feed.requests_per_minute must be >= 0")
	}
	if c.Refresh.BatchSize < 1 {
		errs = append(errs, "refresh.batch_size must be >= 1")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
