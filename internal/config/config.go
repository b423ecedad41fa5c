// Package config provides configuration management for the valuation pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"cas-valuer/internal/errors"
	"cas-valuer/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	NAV      NAVConfig      `mapstructure:"nav"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Notify   NotifyConfig   `mapstructure:"notifications"`
}

// DatabaseConfig holds the document store configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// PipelineConfig holds orchestrator configuration.
type PipelineConfig struct {
	StatementWorkers   int           `mapstructure:"statement_workers"`
	HoldingConcurrency int           `mapstructure:"holding_concurrency"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
}

// NAVConfig holds NAV provider configuration.
type NAVConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	BreakerFailures   int           `mapstructure:"breaker_failures"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// NotifyConfig holds statement outcome notification settings.
type NotifyConfig struct {
	Level    string         `mapstructure:"level"` // all, failures
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification settings.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// LogConfig converts the logging section for the logging package.
func (l LoggingConfig) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      l.Level,
		Console:    l.Console,
		File:       l.File,
		FilePath:   l.FilePath,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/cas-valuer"
	}
	return filepath.Join(home, ".config", "cas-valuer")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A commented
// template is written on first use.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	v := viper.New()
	setDefaults(v, configDir)
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file overrides anything.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("database.path", filepath.Join(configDir, "cas-valuer.db"))

	v.SetDefault("pipeline.statement_workers", 2)
	v.SetDefault("pipeline.holding_concurrency", 4)
	v.SetDefault("pipeline.poll_interval", 5*time.Minute)

	v.SetDefault("nav.base_url", "https://api.mfapi.in")
	v.SetDefault("nav.timeout", 20*time.Second)
	v.SetDefault("nav.requests_per_second", 5.0)
	v.SetDefault("nav.burst", 5)
	v.SetDefault("nav.cache_ttl", 30*time.Minute)
	v.SetDefault("nav.max_attempts", 3)
	v.SetDefault("nav.initial_backoff", 500*time.Millisecond)
	v.SetDefault("nav.max_backoff", 10*time.Second)
	v.SetDefault("nav.breaker_failures", 5)
	v.SetDefault("nav.breaker_cooldown", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "cas-valuer.log"))
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("notifications.level", "failures")
	v.SetDefault("notifications.webhook.enabled", false)
	v.SetDefault("notifications.telegram.enabled", false)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CAS_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CAS_NAV_BASE_URL"); v != "" {
		cfg.NAV.BaseURL = v
	}
	if v := os.Getenv("CAS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CAS_HOLDING_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.HoldingConcurrency = n
		}
	}
	if v := os.Getenv("CAS_STATEMENT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.StatementWorkers = n
		}
	}
	if v := os.Getenv("CAS_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notify.Telegram.BotToken = v
	}
	if v := os.Getenv("CAS_WEBHOOK_URL"); v != "" {
		cfg.Notify.Webhook.URL = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.Wrap(errors.ErrConfigInvalid, "database.path must be set")
	}
	if c.Pipeline.StatementWorkers < 1 {
		return errors.Wrap(errors.ErrConfigInvalid, "pipeline.statement_workers must be at least 1")
	}
	if c.Pipeline.HoldingConcurrency < 1 {
		return errors.Wrap(errors.ErrConfigInvalid, "pipeline.holding_concurrency must be at least 1")
	}
	if c.Pipeline.PollInterval <= 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "pipeline.poll_interval must be positive")
	}
	if c.NAV.BaseURL == "" {
		return errors.Wrap(errors.ErrConfigInvalid, "nav.base_url must be set")
	}
	if c.NAV.Timeout <= 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "nav.timeout must be positive")
	}
	if c.NAV.RequestsPerSecond <= 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "nav.requests_per_second must be positive")
	}
	if c.NAV.MaxAttempts < 1 {
		return errors.Wrap(errors.ErrConfigInvalid, "nav.max_attempts must be at least 1")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Wrapf(errors.ErrConfigInvalid, "invalid logging.level: %s", c.Logging.Level)
	}
	switch c.Notify.Level {
	case "all", "failures":
	default:
		return errors.Wrapf(errors.ErrConfigInvalid, "invalid notifications.level: %s", c.Notify.Level)
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return errors.Wrap(errors.ErrConfigInvalid, "notifications.webhook.url must be set when the webhook is enabled")
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return errors.Wrap(errors.ErrConfigInvalid, "notifications.telegram needs bot_token and chat_id")
	}
	return nil
}

// TOML renders the effective configuration as TOML.
func (c *Config) TOML() ([]byte, error) {
	doc := map[string]interface{}{
		"database": map[string]interface{}{
			"path": c.Database.Path,
		},
		"pipeline": map[string]interface{}{
			"statement_workers":   c.Pipeline.StatementWorkers,
			"holding_concurrency": c.Pipeline.HoldingConcurrency,
			"poll_interval":       c.Pipeline.PollInterval.String(),
		},
		"nav": map[string]interface{}{
			"base_url":            c.NAV.BaseURL,
			"timeout":             c.NAV.Timeout.String(),
			"requests_per_second": c.NAV.RequestsPerSecond,
			"burst":               c.NAV.Burst,
			"cache_ttl":           c.NAV.CacheTTL.String(),
			"max_attempts":        c.NAV.MaxAttempts,
			"initial_backoff":     c.NAV.InitialBackoff.String(),
			"max_backoff":         c.NAV.MaxBackoff.String(),
			"breaker_failures":    c.NAV.BreakerFailures,
			"breaker_cooldown":    c.NAV.BreakerCooldown.String(),
		},
		"logging": map[string]interface{}{
			"level":       c.Logging.Level,
			"console":     c.Logging.Console,
			"file":        c.Logging.File,
			"file_path":   c.Logging.FilePath,
			"max_size":    c.Logging.MaxSize,
			"max_backups": c.Logging.MaxBackups,
			"max_age":     c.Logging.MaxAge,
		},
		"notifications": map[string]interface{}{
			"level": c.Notify.Level,
			"webhook": map[string]interface{}{
				"enabled": c.Notify.Webhook.Enabled,
				"url":     c.Notify.Webhook.URL,
			},
			"telegram": map[string]interface{}{
				"enabled": c.Notify.Telegram.Enabled,
				"chat_id": c.Notify.Telegram.ChatID,
			},
		},
	}
	return toml.Marshal(doc)
}
