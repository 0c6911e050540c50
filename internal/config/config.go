// Package config defines the top-level configuration for the wealthcore
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by WEALTHD_* environment
// variables.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	MarketData MarketDataConfig `toml:"market_data"`
	Refresh    RefreshConfig    `toml:"refresh"`
	Backup     BackupConfig     `toml:"backup"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for backups.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MarketDataConfig holds the external price provider's endpoints.
type MarketDataConfig struct {
	BaseURL             string `toml:"base_url"`
	WsURL               string `toml:"ws_url"`
	APIKey              string `toml:"api_key"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds"`
	StreamQuotes        bool   `toml:"stream_quotes"`
}

// RefreshConfig tunes the periodic valuation refresh.
type RefreshConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	Concurrency     int `toml:"concurrency"`
}

// BackupConfig tunes periodic snapshot archival.
type BackupConfig struct {
	IntervalHours int `toml:"interval_hours"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials and the event filter.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	WebhookURL     string   `toml:"webhook_url"`
	Events         []string `toml:"events"`
}

var validModes = map[string]bool{
	"serve":   true,
	"refresh": true,
	"backup":  true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wealthcore",
			User:          "wealthcore",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		MarketData: MarketDataConfig{
			FetchTimeoutSeconds: 10,
		},
		Refresh: RefreshConfig{
			IntervalSeconds: 300,
			Concurrency:     4,
		},
		Backup: BackupConfig{
			IntervalHours: 24,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Validate checks the configuration for the selected mode and reports every
// problem at once.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, refresh, backup, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "") {
		errs = append(errs, "database: either dsn or host/database/user must be set")
	}

	needsMarketData := mode == "refresh" || mode == "full"
	if needsMarketData && c.MarketData.BaseURL == "" {
		errs = append(errs, "market_data: base_url must be set for mode "+mode)
	}
	if c.MarketData.StreamQuotes && c.MarketData.WsURL == "" {
		errs = append(errs, "market_data: ws_url is required when stream_quotes is enabled")
	}

	needsS3 := mode == "backup" || mode == "full"
	if needsS3 && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must be set for mode "+mode)
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}
	if c.Refresh.IntervalSeconds < 1 {
		errs = append(errs, "refresh: interval_seconds must be at least 1")
	}
	if c.Backup.IntervalHours < 1 {
		errs = append(errs, "backup: interval_hours must be at least 1")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func Redacted(cfg *Config) Config {
	out := *cfg
	redact(&out.Database.Password)
	redact(&out.Database.DSN)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.MarketData.APIKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
