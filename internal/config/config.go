// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Redis   RedisConfig   `yaml:"redis" mapstructure:"redis"`
	Scraper ScraperConfig `yaml:"scraper" mapstructure:"scraper"`
	Sync    SyncConfig    `yaml:"sync" mapstructure:"sync"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the result-cache backend. An empty address selects
// the in-process cache, which does not survive restarts.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// ScraperConfig configures the upstream portal client.
type ScraperConfig struct {
	BaseURL            string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent          string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs        int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryCount         int    `yaml:"retry_count" mapstructure:"retry_count"`
	RequestSpacingMsec int    `yaml:"request_spacing_msec" mapstructure:"request_spacing_msec"`
}

// SyncConfig configures the incremental sync pass.
type SyncConfig struct {
	DriftTolerance int `yaml:"drift_tolerance" mapstructure:"drift_tolerance"`
	MaxScan        int `yaml:"max_scan" mapstructure:"max_scan"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port    int    `yaml:"port" mapstructure:"port"`
	SiteURL string `yaml:"site_url" mapstructure:"site_url"`
}

// ExportConfig configures the bulk export endpoints. When Bucket is empty the
// export streams local files directly instead of redirecting to object
// storage.
type ExportConfig struct {
	Bucket             string `yaml:"bucket" mapstructure:"bucket"`
	Region             string `yaml:"region" mapstructure:"region"`
	ObjectPrefix       string `yaml:"object_prefix" mapstructure:"object_prefix"`
	LocalDir           string `yaml:"local_dir" mapstructure:"local_dir"`
	TurnstileSecret    string `yaml:"turnstile_secret" mapstructure:"turnstile_secret"`
	TurnstileVerifyURL string `yaml:"turnstile_verify_url" mapstructure:"turnstile_verify_url"`
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
	v.SetEnvPrefix("WVFOIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.site_url", "https://wvfoia.org")
	v.SetDefault("redis.db", 0)
	v.SetDefault("scraper.base_url", "https://foia.wv.gov/Pages/FOIADatabaseEntry.aspx")
	v.SetDefault("scraper.user_agent", "wvfoia-sync/1.4 (+https://wvfoia.org/about)")
	v.SetDefault("scraper.timeout_secs", 30)
	v.SetDefault("scraper.retry_count", 2)
	v.SetDefault("scraper.request_spacing_msec", 500)
	v.SetDefault("sync.drift_tolerance", 3)
	v.SetDefault("sync.max_scan", 500)
	v.SetDefault("export.region", "us-east-1")
	v.SetDefault("export.object_prefix", "exports/")
	v.SetDefault("export.local_dir", "./exports")
	v.SetDefault("export.turnstile_verify_url", "https://challenges.cloudflare.com/turnstile/v0/siteverify")

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
