package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLOORSYNC_* environment variable overrides, and
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

// applyEnvOverrides reads well-known FLOORSYNC_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "FLOORSYNC_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "FLOORSYNC_CHAIN_ID")
	setBool(&cfg.Chain.TraceEnabled, "FLOORSYNC_CHAIN_TRACE_ENABLED")
	setDuration(&cfg.Chain.PollInterval, "FLOORSYNC_CHAIN_POLL_INTERVAL")
	setUint64(&cfg.Chain.ReorgDepth, "FLOORSYNC_CHAIN_REORG_DEPTH")

	// ── Contracts ──
	setStr(&cfg.Contracts.Seaport, "FLOORSYNC_CONTRACTS_SEAPORT")
	setStr(&cfg.Contracts.ZeroExV4, "FLOORSYNC_CONTRACTS_ZEROEX_V4")
	setStr(&cfg.Contracts.LooksRare, "FLOORSYNC_CONTRACTS_LOOKSRARE")
	setStr(&cfg.Contracts.X2Y2, "FLOORSYNC_CONTRACTS_X2Y2")
	setStr(&cfg.Contracts.SeaportConduit, "FLOORSYNC_CONTRACTS_SEAPORT_CONDUIT")
	setStr(&cfg.Contracts.LooksRareTransferManager, "FLOORSYNC_CONTRACTS_LOOKSRARE_TRANSFER_MANAGER")
	setStr(&cfg.Contracts.X2Y2Delegate, "FLOORSYNC_CONTRACTS_X2Y2_DELEGATE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FLOORSYNC_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLOORSYNC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLOORSYNC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLOORSYNC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLOORSYNC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLOORSYNC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLOORSYNC_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLOORSYNC_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLOORSYNC_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLOORSYNC_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FLOORSYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLOORSYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLOORSYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLOORSYNC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLOORSYNC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLOORSYNC_REDIS_TLS_ENABLED")

	// ── Queue ──
	setDuration(&cfg.Queue.DedupWindow, "FLOORSYNC_QUEUE_DEDUP_WINDOW")
	setInt(&cfg.Queue.SyncConcurrency, "FLOORSYNC_QUEUE_SYNC_CONCURRENCY")
	setInt(&cfg.Queue.ReconcileConcurrency, "FLOORSYNC_QUEUE_RECONCILE_CONCURRENCY")
	setInt(&cfg.Queue.MaxAttempts, "FLOORSYNC_QUEUE_MAX_ATTEMPTS")
	setDuration(&cfg.Queue.BackoffBase, "FLOORSYNC_QUEUE_BACKOFF_BASE")

	// ── Ingest ──
	setStringSlice(&cfg.Ingest.FilteredSources, "FLOORSYNC_INGEST_FILTERED_SOURCES")
	setInt(&cfg.Ingest.RevalidationBatch, "FLOORSYNC_INGEST_REVALIDATION_BATCH")
	setDuration(&cfg.Ingest.ExpiryInterval, "FLOORSYNC_INGEST_EXPIRY_INTERVAL")
	setDuration(&cfg.Ingest.RevalidateInterval, "FLOORSYNC_INGEST_REVALIDATE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FLOORSYNC_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FLOORSYNC_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FLOORSYNC_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FLOORSYNC_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FLOORSYNC_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "FLOORSYNC_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLOORSYNC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLOORSYNC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLOORSYNC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLOORSYNC_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FLOORSYNC_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "FLOORSYNC_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "FLOORSYNC_ARCHIVE_RETENTION")
	setStr(&cfg.Archive.Endpoint, "FLOORSYNC_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "FLOORSYNC_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "FLOORSYNC_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "FLOORSYNC_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "FLOORSYNC_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "FLOORSYNC_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "FLOORSYNC_ARCHIVE_FORCE_PATH_STYLE")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLOORSYNC_MODE")
	setStr(&cfg.LogLevel, "FLOORSYNC_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
