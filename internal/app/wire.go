package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/floorsync/internal/blob/s3"
	"github.com/alanyoungcy/floorsync/internal/cache/redis"
	"github.com/alanyoungcy/floorsync/internal/chain"
	"github.com/alanyoungcy/floorsync/internal/config"
	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/notify"
	queueredis "github.com/alanyoungcy/floorsync/internal/queue/redis"
	"github.com/alanyoungcy/floorsync/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Orders      domain.OrderStore
	Tokens      domain.TokenStore
	TokenSets   domain.TokenSetStore
	Collections domain.CollectionStore
	Blocks      domain.BlockStore
	Facts       domain.FactStore
	CacheEvents domain.CacheEventStore
	Nonces      domain.NonceStore

	// Redis-backed coordination
	Locks       domain.LockManager
	Watermarks  domain.WatermarkStore
	RateLimiter domain.RateLimiter
	Queue       *queueredis.Queue

	// Chain
	Chain *chain.Client

	// Blob storage (only when archiving is enabled)
	BlobWriter domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier
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

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
	deps.Orders = postgres.NewOrderStore(pool)
	deps.Tokens = postgres.NewTokenStore(pool)
	deps.TokenSets = postgres.NewTokenSetStore(pool)
	deps.Collections = postgres.NewCollectionStore(pool)
	deps.Blocks = postgres.NewBlockStore(pool)
	deps.Facts = postgres.NewFactStore(pool)
	deps.CacheEvents = postgres.NewCacheEventStore(pool)
	deps.Nonces = postgres.NewNonceStore(pool)

	// --- Redis ---
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
	deps.Watermarks = redis.NewWatermarkStore(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Queue = queueredis.NewQueue(redisClient, cfg.Queue.DedupWindow.Duration, logger)

	// --- Chain ---
	chainClient, err := chain.Dial(ctx, chain.Config{
		RPCURL:       cfg.Chain.RPCURL,
		TraceEnabled: cfg.Chain.TraceEnabled,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	// --- S3 blob storage (only when archiving is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.BlobWriter = s3blob.NewWriter(s3Client)
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
