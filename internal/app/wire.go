package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/Valrob28/traderbrok/internal/blob/s3"
	"github.com/Valrob28/traderbrok/internal/cache/redis"
	"github.com/Valrob28/traderbrok/internal/config"
	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/notify"
	"github.com/Valrob28/traderbrok/internal/server/handler"
	"github.com/Valrob28/traderbrok/internal/store/postgres"
)

// Dependencies bundles the external backends the modes attach to. Every
// field is nil when its config section is disabled.
type Dependencies struct {
	// Stores
	TradeStore *postgres.TradeStore
	AuditStore domain.AuditLog

	// Caches
	PriceCache  domain.PriceCache
	BookCache   domain.OrderbookCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	EventBus    domain.EventBus

	// Blob storage
	Bucket   domain.ObjectStore
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Health checks keyed by backend name, for /api/health.
	Checks map[string]handler.HealthCheck
	// Stats are backend pool counters, merged into /api/stats.
	Stats map[string]func() any
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Checks: make(map[string]handler.HealthCheck),
		Stats:  make(map[string]func() any),
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Health
		deps.Stats["postgres_pool"] = func() any { return pgClient.PoolStats() }
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			DialTimeout: cfg.Redis.DialTimeout.Duration,
			TLSEnabled:  cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.BookCache = redis.NewOrderbookCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient, logger)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
		deps.Stats["redis_pool"] = func() any { return redisClient.PoolStats() }
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		if created, err := s3Client.EnsureBucket(ctx); err != nil {
			logger.Warn("s3 bucket check failed",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		} else if created {
			logger.Info("s3 bucket created", slog.String("bucket", cfg.S3.Bucket))
		}

		deps.Bucket = s3blob.NewBucket(s3Client)
		// The trade store is optional: without it only snapshots are archived.
		var trades s3blob.TradeArchiveStore
		if deps.TradeStore != nil {
			trades = deps.TradeStore
		}
		deps.Archiver = s3blob.NewArchiver(deps.Bucket, trades, deps.AuditStore, logger)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
