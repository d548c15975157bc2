// Package config defines the top-level configuration of the simulator and
// its validation rules.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Valrob28/traderbrok/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADERBROK_* environment variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
	// Seed fixes the random source. Zero seeds from the wall clock.
	Seed int64 `toml:"seed"`

	Feed     FeedConfig     `toml:"feed"`
	Pricing  PricingConfig  `toml:"pricing"`
	Book     BookConfig     `toml:"book"`
	Tape     TapeConfig     `toml:"tape"`
	Hub      HubConfig      `toml:"hub"`
	Markets  []MarketConfig `toml:"markets"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// Interval is a [min, max] redraw range; equal bounds fire at a fixed rate.
type Interval struct {
	Min duration `toml:"min"`
	Max duration `toml:"max"`
}

// FeedConfig holds the timer cadence of the simulation loop.
type FeedConfig struct {
	PriceInterval Interval `toml:"price_interval"`
	BookInterval  Interval `toml:"book_interval"`
	TradeInterval Interval `toml:"trade_interval"`
	// SweepInterval ticks every market together; a zero min disables it.
	SweepInterval Interval `toml:"sweep_interval"`
	MaxRebuilds   int      `toml:"max_rebuilds"`
}

// PricingConfig holds the random-walk parameters.
type PricingConfig struct {
	Volatility float64 `toml:"volatility"`
	Floor      float64 `toml:"floor"`
}

// BookConfig holds the synthetic ladder shape.
type BookConfig struct {
	Depth    int     `toml:"depth"`
	TickSize float64 `toml:"tick_size"`
	SizeMin  float64 `toml:"size_min"`
	SizeMax  float64 `toml:"size_max"`
}

// TapeConfig holds trade generation parameters.
type TapeConfig struct {
	Capacity int     `toml:"capacity"`
	Jitter   float64 `toml:"jitter"`
	SizeMin  float64 `toml:"size_min"`
	SizeMax  float64 `toml:"size_max"`
}

// HubConfig tunes subscriber delivery.
type HubConfig struct {
	DeliveryTimeout duration `toml:"delivery_timeout"`
}

// MarketConfig is one [[markets]] seed entry. Volume is in millions.
type MarketConfig struct {
	Symbol string  `toml:"symbol"`
	Price  float64 `toml:"price"`
	Change float64 `toml:"change"`
	Volume float64 `toml:"volume"`
	High   float64 `toml:"high"`
	Low    float64 `toml:"low"`
}

// RedisConfig holds Redis connection parameters. Mirror publishes feed state
// into Redis; LeaderLock makes the simulator hold a lease so only one
// instance runs against a shared Redis.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	DialTimeout duration `toml:"dial_timeout"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	Mirror      bool     `toml:"mirror"`
	LeaderLock  bool     `toml:"leader_lock"`
	LockTTL     duration `toml:"lock_ttl"`
}

// PostgresConfig holds trade recorder storage and retention parameters.
type PostgresConfig struct {
	Enabled       bool     `toml:"enabled"`
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	RunMigrations bool     `toml:"run_migrations"`
	Retention     duration `toml:"retention"`
	ArchiveCron   string   `toml:"archive_cron"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled          bool     `toml:"enabled"`
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	// RestoreOnStart seeds markets from the newest snapshot when one exists.
	RestoreOnStart bool `toml:"restore_on_start"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client; it needs Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds operator alert channels. Events filters which alerts are
// sent; empty sends all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewInterval builds an Interval from plain durations.
func NewInterval(lo, hi time.Duration) Interval {
	return Interval{Min: duration{lo}, Max: duration{hi}}
}

// DefaultMarkets is the stock 14-market universe.
func DefaultMarkets() []MarketConfig {
	return []MarketConfig{
		{Symbol: "ETH-USD", Price: 2345.67, Change: 2.34, Volume: 1200, High: 2456.78, Low: 2234.56},
		{Symbol: "BTC-USD", Price: 43250.00, Change: -1.25, Volume: 2800, High: 44123.45, Low: 42567.89},
		{Symbol: "SOL-USD", Price: 98.45, Change: 5.67, Volume: 456, High: 102.34, Low: 89.12},
		{Symbol: "AVAX-USD", Price: 37.89, Change: 3.21, Volume: 234, High: 39.45, Low: 35.67},
		{Symbol: "ARB-USD", Price: 1.89, Change: -0.45, Volume: 123, High: 1.95, Low: 1.78},
		{Symbol: "OP-USD", Price: 2.34, Change: 1.87, Volume: 89, High: 2.45, Low: 2.12},
		{Symbol: "MATIC-USD", Price: 0.87, Change: -2.14, Volume: 67, High: 0.92, Low: 0.81},
		{Symbol: "LINK-USD", Price: 14.56, Change: 4.23, Volume: 145, High: 15.12, Low: 13.89},
		{Symbol: "UNI-USD", Price: 6.78, Change: -1.56, Volume: 78, High: 7.12, Low: 6.45},
		{Symbol: "AAVE-USD", Price: 89.34, Change: 2.87, Volume: 34, High: 92.45, Low: 85.67},
		{Symbol: "ABS-USD", Price: 0.45, Change: 8.92, Volume: 156, High: 0.48, Low: 0.41},
		{Symbol: "ABST-USD", Price: 12.67, Change: -3.45, Volume: 89, High: 13.21, Low: 12.34},
		{Symbol: "CHAIN-USD", Price: 3.21, Change: 6.78, Volume: 234, High: 3.45, Low: 2.98},
		{Symbol: "ABSTRACT-USD", Price: 156.78, Change: 4.56, Volume: 67, High: 162.34, Low: 149.23},
	}
}

// Defaults returns a Config populated with the stock values.
func Defaults() Config {
	return Config{
		Mode:     "serve",
		LogLevel: "info",
		Feed: FeedConfig{
			PriceInterval: NewInterval(3*time.Second, 8*time.Second),
			BookInterval:  NewInterval(time.Second, 1500*time.Millisecond),
			TradeInterval: NewInterval(2*time.Second, 2500*time.Millisecond),
			SweepInterval: NewInterval(2*time.Second, 5*time.Second),
			MaxRebuilds:   3,
		},
		Pricing: PricingConfig{Volatility: 0.005, Floor: 0.01},
		Book:    BookConfig{Depth: 10, TickSize: 0.1, SizeMin: 10, SizeMax: 60},
		Tape:    TapeConfig{Capacity: 20, Jitter: 0.01, SizeMin: 0.1, SizeMax: 5.1},
		Hub:     HubConfig{DeliveryTimeout: duration{5 * time.Second}},
		Markets: DefaultMarkets(),
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
			Mirror:      true,
			LockTTL:     duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "traderbrok",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			Retention:     duration{7 * 24 * time.Hour},
			ArchiveCron:   "0 3 * * *",
		},
		S3: S3Config{
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "traderbrok-data",
			ForcePathStyle:   true,
			SnapshotInterval: duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Second},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"simulate": true,
	"serve":    true,
	"full":     true,
	"replica":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Seeds converts the [[markets]] entries to registry seeds.
func (c *Config) Seeds() []domain.MarketSeed {
	out := make([]domain.MarketSeed, 0, len(c.Markets))
	for _, m := range c.Markets {
		out = append(out, domain.MarketSeed{
			Symbol: m.Symbol,
			Price:  m.Price,
			Change: m.Change,
			Volume: m.Volume,
			High:   m.High,
			Low:    m.Low,
		})
	}
	return out
}

func checkInterval(errs []string, name string, iv Interval) []string {
	if iv.Min.Duration <= 0 || iv.Max.Duration < iv.Min.Duration {
		errs = append(errs, fmt.Sprintf("feed: %s must satisfy 0 < min <= max, got [%s, %s]", name, iv.Min.Duration, iv.Max.Duration))
	}
	return errs
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Market seeds are validated
// again, in full, by the registry.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: simulate, serve, full, replica)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	errs = checkInterval(errs, "price_interval", c.Feed.PriceInterval)
	errs = checkInterval(errs, "book_interval", c.Feed.BookInterval)
	errs = checkInterval(errs, "trade_interval", c.Feed.TradeInterval)
	if c.Feed.SweepInterval.Min.Duration != 0 {
		errs = checkInterval(errs, "sweep_interval", c.Feed.SweepInterval)
	}
	if c.Feed.MaxRebuilds < 1 {
		errs = append(errs, "feed: max_rebuilds must be >= 1")
	}

	if c.Pricing.Volatility < 0 || c.Pricing.Volatility > 1 {
		errs = append(errs, fmt.Sprintf("pricing: volatility must be in [0, 1], got %g", c.Pricing.Volatility))
	}
	if c.Pricing.Floor <= 0 {
		errs = append(errs, "pricing: floor must be > 0")
	}

	if c.Book.Depth < 0 {
		errs = append(errs, "book: depth must be >= 0")
	}
	if c.Book.TickSize <= 0 {
		errs = append(errs, "book: tick_size must be > 0")
	}
	if c.Book.SizeMin <= 0 || c.Book.SizeMax < c.Book.SizeMin {
		errs = append(errs, "book: need 0 < size_min <= size_max")
	}

	if c.Tape.Capacity < 1 {
		errs = append(errs, "tape: capacity must be >= 1")
	}
	if c.Tape.Jitter < 0 || c.Tape.Jitter >= 1 {
		errs = append(errs, "tape: jitter must be in [0, 1)")
	}
	if c.Tape.SizeMin <= 0 || c.Tape.SizeMax < c.Tape.SizeMin {
		errs = append(errs, "tape: need 0 < size_min <= size_max")
	}

	if len(c.Markets) == 0 {
		errs = append(errs, "markets: at least one [[markets]] entry is required")
	}
	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if m.Symbol == "" {
			errs = append(errs, fmt.Sprintf("markets[%d]: symbol must not be empty", i))
			continue
		}
		if seen[m.Symbol] {
			errs = append(errs, fmt.Sprintf("markets[%d]: duplicate symbol %q", i, m.Symbol))
		}
		seen[m.Symbol] = true
	}

	needsRedis := mode == "replica" || (c.Server.RateLimit > 0 && mode != "simulate")
	if needsRedis && !c.Redis.Enabled {
		errs = append(errs, fmt.Sprintf("redis: must be enabled for mode %q or server.rate_limit", c.Mode))
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LeaderLock && c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be >= 1s when leader_lock is set")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if mode != "simulate" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s: %w", strings.Join(errs, "\n  - "), domain.ErrInvalidConfig)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for logging.
func (c *Config) Redacted() Config {
	out := *c
	out.Markets = append([]MarketConfig(nil), c.Markets...)
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), c.Notify.Events...)
	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
