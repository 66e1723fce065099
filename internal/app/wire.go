package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/opinionbook/internal/blob/s3"
	"github.com/alanyoungcy/opinionbook/internal/cache/redis"
	"github.com/alanyoungcy/opinionbook/internal/config"
	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/notify"
	"github.com/alanyoungcy/opinionbook/internal/oracle"
	"github.com/alanyoungcy/opinionbook/internal/store/memory"
	"github.com/alanyoungcy/opinionbook/internal/store/postgres"
)

// localStreamLen bounds the in-process event stream when Redis is absent.
const localStreamLen = 10000

// Dependencies bundles the concrete infrastructure the modes run on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Book   domain.BookStore
	Ledger domain.Ledger
	Audit  domain.AuditStore

	// Redis-backed, nil without Redis.
	Locks       domain.LockManager
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter

	// Bus is Redis pub/sub when configured, an in-process bus otherwise.
	Bus domain.SignalBus

	// Archiver is nil when no bucket is configured.
	Archiver domain.SettlementArchiver

	Oracle domain.OutcomeOracle
	// Weather is set only for the open_meteo oracle.
	Weather *oracle.OpenMeteo

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	seed := decimal.NewFromFloat(cfg.Store.SeedBalance)

	// --- Stores ---
	switch cfg.Store.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		stores := pgClient.Stores(seed)
		deps.Book = stores.Book
		deps.Ledger = stores.Ledger
		deps.Audit = stores.Audit
	case "memory":
		logger.WarnContext(ctx, "wire: memory store in use, state is lost on restart")
		deps.Book = memory.NewBookStore()
		deps.Ledger = memory.NewLedger(seed)
		deps.Audit = memory.NewAuditStore()
	default:
		return nil, nil, fmt.Errorf("wire: unknown store backend %q", cfg.Store.Backend)
	}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
	} else {
		logger.InfoContext(ctx, "wire: redis not configured, using in-process lock and event bus")
		deps.Bus = notify.NewLocalBus(localStreamLen)
	}

	// --- S3 settlement archive ---
	if cfg.S3.Bucket != "" {
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
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "wire: s3 bucket not reachable, archiving may fail",
				slog.String("bucket", cfg.S3.Bucket), slog.String("error", err.Error()))
		}
		deps.Archiver = s3blob.NewReportArchiver(s3blob.NewWriter(s3Client))
	}

	// --- Oracle ---
	switch cfg.Oracle.Kind {
	case "open_meteo":
		om := oracle.NewOpenMeteo(oracle.OpenMeteoConfig{
			BaseURL:    cfg.Oracle.BaseURL,
			Latitude:   cfg.Oracle.Latitude,
			Longitude:  cfg.Oracle.Longitude,
			Timeout:    cfg.Oracle.Timeout.Duration,
			MaxRetries: cfg.Oracle.MaxRetries,
		})
		deps.Oracle = om
		deps.Weather = om
	case "static":
		deps.Oracle = oracle.Static{Value: decimal.NewFromFloat(cfg.Oracle.StaticValue)}
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown oracle kind %q", cfg.Oracle.Kind)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
