// Package config defines the top-level configuration for the floorsync
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLOORSYNC_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Contracts ContractsConfig `toml:"contracts"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Queue     QueueConfig     `toml:"queue"`
	Ingest    IngestConfig    `toml:"ingest"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Archive   ArchiveConfig   `toml:"archive"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ChainConfig holds the upstream node connection and head-following
// parameters.
type ChainConfig struct {
	RPCURL string `toml:"rpc_url"`
	// ChainID is used when reconstructing EIP-712 order digests.
	ChainID int64 `toml:"chain_id"`
	// TraceEnabled turns on debug_traceTransaction calls; requires an archive
	// node with the debug namespace exposed.
	TraceEnabled bool `toml:"trace_enabled"`
	// PollInterval is how often the head is polled for new blocks.
	PollInterval duration `toml:"poll_interval"`
	// ReorgDepth is how many recent heights are re-checked for orphaned
	// blocks on every poll.
	ReorgDepth uint64 `toml:"reorg_depth"`
}

// ContractsConfig pins the exchange and operator addresses events are
// accepted from. An empty exchange address leaves that protocol's topics
// unpinned (any emitter matches), which is only useful on test networks.
type ContractsConfig struct {
	Seaport   string `toml:"seaport"`
	ZeroExV4  string `toml:"zeroex_v4"`
	LooksRare string `toml:"looksrare"`
	X2Y2      string `toml:"x2y2"`

	// Per-protocol operator addresses the fillability probe checks transfer
	// approval against.
	SeaportConduit           string `toml:"seaport_conduit"`
	LooksRareTransferManager string `toml:"looksrare_transfer_manager"`
	X2Y2Delegate             string `toml:"x2y2_delegate"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// QueueConfig tunes the task queue and its consumers.
type QueueConfig struct {
	// DedupWindow is how long a completed job id suppresses re-enqueues.
	DedupWindow duration `toml:"dedup_window"`
	// SyncConcurrency is the worker count on the block-sync queue.
	SyncConcurrency int `toml:"sync_concurrency"`
	// ReconcileConcurrency is the worker count on the reconcile queue.
	ReconcileConcurrency int `toml:"reconcile_concurrency"`
	// MaxAttempts is how many deliveries a job gets before dead-lettering.
	MaxAttempts int `toml:"max_attempts"`
	// BackoffBase is the base delay for redelivery backoff.
	BackoffBase duration `toml:"backoff_base"`
}

// IngestConfig tunes order submission and maintenance sweeps.
type IngestConfig struct {
	// FilteredSources rejects submissions from the named sources outright.
	FilteredSources []string `toml:"filtered_sources"`
	// RevalidationBatch bounds how many recoverable orders one revalidation
	// pass re-probes.
	RevalidationBatch int `toml:"revalidation_batch"`
	// ExpiryInterval is the cadence of the expiry sweep.
	ExpiryInterval duration `toml:"expiry_interval"`
	// RevalidateInterval is the cadence of the recoverable-order pass.
	RevalidateInterval duration `toml:"revalidate_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects all non-health routes; empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimit bounds requests per client IP per RateWindow; zero disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig holds the event-log rotation parameters and the
// S3-compatible storage it ships to.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`

	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values. The
// contract addresses are the Ethereum mainnet deployments.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:       "http://localhost:8545",
			ChainID:      1,
			TraceEnabled: false,
			PollInterval: duration{12 * time.Second},
			ReorgDepth:   10,
		},
		Contracts: ContractsConfig{
			Seaport:                  "0x00000000006c3852cbEf3e08E8dF289169EdE581",
			ZeroExV4:                 "0xDef1C0ded9bec7F1a1670819833240f027b25EfF",
			LooksRare:                "0x59728544B08AB483533076417FbBB2fD0B17CE3a",
			X2Y2:                     "0x74312363e45DCaBA76c59ec49a7Aa8A65a67EeD3",
			SeaportConduit:           "0x1E0049783F008A0085193E00003D00cd54003c71",
			LooksRareTransferManager: "0xf42aa99F011A1fA7CDA90E5E98b277E306BcA83e",
			X2Y2Delegate:             "0xF849de01B080aDC3A814FaBE1E2087475cF2E354",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "floorsync",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Queue: QueueConfig{
			DedupWindow:          duration{15 * time.Minute},
			SyncConcurrency:      4,
			ReconcileConcurrency: 8,
			MaxAttempts:          5,
			BackoffBase:          duration{time.Second},
		},
		Ingest: IngestConfig{
			RevalidationBatch:  200,
			ExpiryInterval:     duration{time.Minute},
			RevalidateInterval: duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"collection-floor-sell", "collection-top-buy"},
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			Interval:       duration{time.Hour},
			Retention:      duration{30 * 24 * time.Hour},
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "floorsync-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sync":   true,
	"worker": true,
	"serve":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sync, worker, serve, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain — required whenever blocks are followed or orders probed.
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.PollInterval.Duration <= 0 {
		errs = append(errs, "chain: poll_interval must be positive")
	}
	if c.Chain.ReorgDepth == 0 {
		errs = append(errs, "chain: reorg_depth must be >= 1")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Queue
	if c.Queue.SyncConcurrency < 1 {
		errs = append(errs, "queue: sync_concurrency must be >= 1")
	}
	if c.Queue.ReconcileConcurrency < 1 {
		errs = append(errs, "queue: reconcile_concurrency must be >= 1")
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, "queue: max_attempts must be >= 1")
	}

	// Ingest
	if c.Ingest.RevalidationBatch < 1 {
		errs = append(errs, "ingest: revalidation_batch must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			errs = append(errs, "archive: endpoint must not be empty when enabled")
		}
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be positive when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
