package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/privymarket/internal/blob/s3"
	"github.com/alanyoungcy/privymarket/internal/bus/amqp"
	"github.com/alanyoungcy/privymarket/internal/cache/redis"
	"github.com/alanyoungcy/privymarket/internal/config"
	"github.com/alanyoungcy/privymarket/internal/domain"
	"github.com/alanyoungcy/privymarket/internal/notify"
	"github.com/alanyoungcy/privymarket/internal/server/handler"
	"github.com/alanyoungcy/privymarket/internal/store/memory"
	"github.com/alanyoungcy/privymarket/internal/store/postgres"
	"github.com/alanyoungcy/privymarket/internal/store/sqlite"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional collaborators are nil when their backend is
// disabled.
type Dependencies struct {
	// Stores
	Ledger     domain.Ledger
	AuditStore domain.AuditStore

	// Caches
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Event sinks other than the in-process hub.
	Publishers []domain.EventPublisher

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Health checks keyed by backend name.
	Checks map[string]handler.Check
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
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Ledger ---
	switch cfg.Ledger.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:         cfg.Postgres.DSN,
			Host:        cfg.Postgres.Host,
			Port:        cfg.Postgres.Port,
			Database:    cfg.Postgres.Database,
			User:        cfg.Postgres.User,
			Password:    cfg.Postgres.Password,
			SSLMode:     cfg.Postgres.SSLMode,
			MaxConns:    cfg.Postgres.PoolMaxConns,
			MinConns:    cfg.Postgres.PoolMinConns,
			MaxConnIdle: cfg.Postgres.MaxConnIdle.Duration,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}
		deps.Ledger = pgClient.Ledger()
		deps.AuditStore = pgClient.AuditStore()
		deps.Checks["postgres"] = func(ctx context.Context) error {
			return pgClient.Pool().Ping(ctx)
		}
		logger.InfoContext(ctx, "wire: postgres ledger connected")

	case "sqlite":
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail("wire: sqlite: %w", err)
		}
		closers = append(closers, func() {
			if err := db.Close(); err != nil {
				logger.Warn("wire: sqlite close", slog.String("error", err.Error()))
			}
		})
		deps.Ledger = db.Ledger()
		deps.AuditStore = db.AuditStore()
		logger.InfoContext(ctx, "wire: sqlite ledger opened", slog.String("path", cfg.SQLite.Path))

	case "memory":
		deps.Ledger = memory.NewLedger()
		deps.AuditStore = memory.NewAuditStore()
		logger.WarnContext(ctx, "wire: memory ledger in use, state is lost on exit")

	default:
		return fail("wire: %w", fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   cfg.Redis.MaxRetries,
			TLSEnabled:   cfg.Redis.TLSEnabled,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Publishers = append(deps.Publishers, redis.NewEventPublisher(deps.SignalBus))
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- AMQP ---
	if cfg.AMQP.Enabled {
		pub, err := amqp.Dial(amqp.Config{
			URL:       cfg.AMQP.URL,
			Exchange:  cfg.AMQP.Exchange,
			Heartbeat: cfg.AMQP.Heartbeat.Duration,
		}, logger)
		if err != nil {
			return fail("wire: amqp: %w", err)
		}
		closers = append(closers, func() { _ = pub.Close() })
		deps.Publishers = append(deps.Publishers, pub)
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client, cfg.S3.PartSize),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI, cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	closers = append(closers, func() {
		if err := deps.Ledger.Close(); err != nil {
			logger.Warn("wire: ledger close", slog.String("error", err.Error()))
		}
	})

	return deps, cleanup, nil
}
