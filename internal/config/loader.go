package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WEALTHD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WEALTHD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "WEALTHD_DATABASE_DSN")
	setStr(&cfg.Database.Host, "WEALTHD_DATABASE_HOST")
	setInt(&cfg.Database.Port, "WEALTHD_DATABASE_PORT")
	setStr(&cfg.Database.Database, "WEALTHD_DATABASE_NAME")
	setStr(&cfg.Database.User, "WEALTHD_DATABASE_USER")
	setStr(&cfg.Database.Password, "WEALTHD_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "WEALTHD_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "WEALTHD_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "WEALTHD_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "WEALTHD_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WEALTHD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WEALTHD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WEALTHD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WEALTHD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WEALTHD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WEALTHD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WEALTHD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WEALTHD_S3_REGION")
	setStr(&cfg.S3.Bucket, "WEALTHD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WEALTHD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WEALTHD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WEALTHD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WEALTHD_S3_FORCE_PATH_STYLE")

	// ── Market data ──
	setStr(&cfg.MarketData.BaseURL, "WEALTHD_MARKET_DATA_BASE_URL")
	setStr(&cfg.MarketData.WsURL, "WEALTHD_MARKET_DATA_WS_URL")
	setStr(&cfg.MarketData.APIKey, "WEALTHD_MARKET_DATA_API_KEY")
	setInt(&cfg.MarketData.FetchTimeoutSeconds, "WEALTHD_MARKET_DATA_FETCH_TIMEOUT_SECONDS")
	setBool(&cfg.MarketData.StreamQuotes, "WEALTHD_MARKET_DATA_STREAM_QUOTES")

	// ── Refresh ──
	setInt(&cfg.Refresh.IntervalSeconds, "WEALTHD_REFRESH_INTERVAL_SECONDS")
	setInt(&cfg.Refresh.Concurrency, "WEALTHD_REFRESH_CONCURRENCY")

	// ── Backup ──
	setInt(&cfg.Backup.IntervalHours, "WEALTHD_BACKUP_INTERVAL_HOURS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WEALTHD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WEALTHD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "WEALTHD_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WEALTHD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WEALTHD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.WebhookURL, "WEALTHD_NOTIFY_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WEALTHD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WEALTHD_MODE")
	setStr(&cfg.LogLevel, "WEALTHD_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
