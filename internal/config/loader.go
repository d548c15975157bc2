package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADERBROK_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	// A file that lists [[markets]] replaces the stock universe rather than
	// patching it entry by entry.
	cfg.Markets = nil

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if len(cfg.Markets) == 0 {
		cfg.Markets = DefaultMarkets()
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADERBROK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setDuration(&cfg.Feed.PriceInterval.Min, "TRADERBROK_FEED_PRICE_INTERVAL_MIN")
	setDuration(&cfg.Feed.PriceInterval.Max, "TRADERBROK_FEED_PRICE_INTERVAL_MAX")
	setDuration(&cfg.Feed.BookInterval.Min, "TRADERBROK_FEED_BOOK_INTERVAL_MIN")
	setDuration(&cfg.Feed.BookInterval.Max, "TRADERBROK_FEED_BOOK_INTERVAL_MAX")
	setDuration(&cfg.Feed.TradeInterval.Min, "TRADERBROK_FEED_TRADE_INTERVAL_MIN")
	setDuration(&cfg.Feed.TradeInterval.Max, "TRADERBROK_FEED_TRADE_INTERVAL_MAX")
	setDuration(&cfg.Feed.SweepInterval.Min, "TRADERBROK_FEED_SWEEP_INTERVAL_MIN")
	setDuration(&cfg.Feed.SweepInterval.Max, "TRADERBROK_FEED_SWEEP_INTERVAL_MAX")
	setInt(&cfg.Feed.MaxRebuilds, "TRADERBROK_FEED_MAX_REBUILDS")

	// ── Pricing / Book / Tape ──
	setFloat64(&cfg.Pricing.Volatility, "TRADERBROK_PRICING_VOLATILITY")
	setFloat64(&cfg.Pricing.Floor, "TRADERBROK_PRICING_FLOOR")
	setInt(&cfg.Book.Depth, "TRADERBROK_BOOK_DEPTH")
	setFloat64(&cfg.Book.TickSize, "TRADERBROK_BOOK_TICK_SIZE")
	setInt(&cfg.Tape.Capacity, "TRADERBROK_TAPE_CAPACITY")
	setFloat64(&cfg.Tape.Jitter, "TRADERBROK_TAPE_JITTER")
	setDuration(&cfg.Hub.DeliveryTimeout, "TRADERBROK_HUB_DELIVERY_TIMEOUT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADERBROK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADERBROK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADERBROK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADERBROK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADERBROK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADERBROK_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.DialTimeout, "TRADERBROK_REDIS_DIAL_TIMEOUT")
	setBool(&cfg.Redis.TLSEnabled, "TRADERBROK_REDIS_TLS_ENABLED")
	setBool(&cfg.Redis.Mirror, "TRADERBROK_REDIS_MIRROR")
	setBool(&cfg.Redis.LeaderLock, "TRADERBROK_REDIS_LEADER_LOCK")
	setDuration(&cfg.Redis.LockTTL, "TRADERBROK_REDIS_LOCK_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TRADERBROK_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TRADERBROK_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRADERBROK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADERBROK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADERBROK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADERBROK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADERBROK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADERBROK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADERBROK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADERBROK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADERBROK_POSTGRES_RUN_MIGRATIONS")
	setDuration(&cfg.Postgres.Retention, "TRADERBROK_POSTGRES_RETENTION")
	setStr(&cfg.Postgres.ArchiveCron, "TRADERBROK_POSTGRES_ARCHIVE_CRON")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADERBROK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADERBROK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADERBROK_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADERBROK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADERBROK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADERBROK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADERBROK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADERBROK_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.SnapshotInterval, "TRADERBROK_S3_SNAPSHOT_INTERVAL")
	setBool(&cfg.S3.RestoreOnStart, "TRADERBROK_S3_RESTORE_ON_START")

	// ── Server ──
	setInt(&cfg.Server.Port, "TRADERBROK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADERBROK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADERBROK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TRADERBROK_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "TRADERBROK_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADERBROK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADERBROK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADERBROK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADERBROK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADERBROK_MODE")
	setStr(&cfg.LogLevel, "TRADERBROK_LOG_LEVEL")
	setInt64(&cfg.Seed, "TRADERBROK_SEED")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
