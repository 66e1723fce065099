// Package config defines the top-level configuration for the opinionbook
// exchange and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/opinionbook/internal/oracle"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OPINIONBOOK_* environment variables.
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Oracle   OracleConfig   `toml:"oracle"`
	Sweep    SweepConfig    `toml:"sweep"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StoreConfig selects the persistence backend for markets, orders and the
// balance ledger.
type StoreConfig struct {
	// Backend is "postgres" or "memory". The memory backend is single-process
	// only and loses all state on restart.
	Backend string `toml:"backend"`
	// SeedBalance is credited to unknown users by the memory ledger.
	SeedBalance float64 `toml:"seed_balance"`
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

// RedisConfig holds Redis connection parameters. Redis is optional; when Addr
// is empty the exchange runs with in-process locking and no event bus.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// CacheTTL bounds how long settled market snapshots stay cached.
	CacheTTL duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters used for the
// settlement report archive. Archiving is disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds matching and settlement parameters.
type EngineConfig struct {
	// WinPayout is paid per executed share on the winning option. The
	// difference to the notional 10 is platform margin.
	WinPayout float64 `toml:"win_payout"`
	// MaxCommitRetries bounds the optimistic version retry loop before a
	// submission fails with a concurrency conflict.
	MaxCommitRetries int `toml:"max_commit_retries"`
	// LockTTL is the lease on the distributed per-market lock.
	LockTTL duration `toml:"lock_ttl"`
	// LockWait is how long a submission waits for the per-market lock.
	LockWait duration `toml:"lock_wait"`
}

// OracleConfig holds outcome oracle parameters.
type OracleConfig struct {
	// Kind is "open_meteo" or "static".
	Kind       string   `toml:"kind"`
	BaseURL    string   `toml:"base_url"`
	Latitude   float64  `toml:"latitude"`
	Longitude  float64  `toml:"longitude"`
	Timeout    duration `toml:"timeout"`
	MaxRetries int      `toml:"max_retries"`
	// StaticValue is returned by the static oracle.
	StaticValue float64 `toml:"static_value"`
}

// SweepConfig controls the periodic expiry and settlement sweep.
type SweepConfig struct {
	Interval    duration `toml:"interval"`
	Concurrency int      `toml:"concurrency"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminAPIKey guards market creation and the manual sweep trigger.
	AdminAPIKey string  `toml:"admin_api_key"`
	RateLimit   float64 `toml:"rate_limit"`
	RateBurst   int     `toml:"rate_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Backend:     "postgres",
			SeedBalance: 0,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "opinionbook",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			CacheTTL:   duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			WinPayout:        9,
			MaxCommitRetries: 5,
			LockTTL:          duration{30 * time.Second},
			LockWait:         duration{3 * time.Second},
		},
		Oracle: OracleConfig{
			Kind:       "open_meteo",
			BaseURL:    "https://api.open-meteo.com/v1/forecast",
			Latitude:   28.625,
			Longitude:  77.25,
			Timeout:    duration{5 * time.Second},
			MaxRetries: 3,
		},
		Sweep: SweepConfig{
			Interval:    duration{time.Minute},
			Concurrency: 8,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
			RateBurst:   40,
		},
		Notify: NotifyConfig{
			Events: []string{"market_settled", "market_halted", "oracle_unavailable"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"sweeper": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sweeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch c.Store.Backend {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	case "memory":
		if c.Store.SeedBalance < 0 {
			errs = append(errs, "store: seed_balance must be >= 0")
		}
		if c.Mode == "sweeper" {
			errs = append(errs, "store: memory backend cannot be shared with a standalone sweeper")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: postgres, memory)", c.Store.Backend))
	}

	// Redis
	if c.Redis.Addr != "" {
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.CacheTTL.Duration <= 0 {
			errs = append(errs, "redis: cache_ttl must be > 0")
		}
	}

	// S3
	if c.S3.Bucket != "" && c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty when bucket is set")
	}

	// Engine
	if c.Engine.WinPayout <= 0 || c.Engine.WinPayout > 10 {
		errs = append(errs, fmt.Sprintf("engine: win_payout must be in (0, 10], got %v", c.Engine.WinPayout))
	}
	if c.Engine.MaxCommitRetries < 1 {
		errs = append(errs, "engine: max_commit_retries must be >= 1")
	}
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be > 0")
	}
	if c.Engine.LockWait.Duration <= 0 {
		errs = append(errs, "engine: lock_wait must be > 0")
	}

	// Oracle
	switch c.Oracle.Kind {
	case "open_meteo":
		if c.Oracle.BaseURL == "" {
			errs = append(errs, "oracle: base_url must not be empty")
		}
		if c.Oracle.Timeout.Duration <= 0 {
			errs = append(errs, "oracle: timeout must be > 0")
		}
		// Settlement resolves the oracle while holding the market lease.
		worst := oracle.OpenMeteoConfig{Timeout: c.Oracle.Timeout.Duration, MaxRetries: c.Oracle.MaxRetries}.MaxResolveTime()
		if c.Engine.LockTTL.Duration <= worst {
			errs = append(errs, fmt.Sprintf("engine: lock_ttl %s must exceed the worst-case oracle resolve time %s",
				c.Engine.LockTTL.Duration, worst))
		}
	case "static":
	default:
		errs = append(errs, fmt.Sprintf("oracle: unknown kind %q (valid: open_meteo, static)", c.Oracle.Kind))
	}
	if c.Oracle.MaxRetries < 0 {
		errs = append(errs, "oracle: max_retries must be >= 0")
	}

	// Sweep
	if c.Mode == "sweeper" || c.Mode == "full" {
		if c.Sweep.Interval.Duration <= 0 {
			errs = append(errs, "sweep: interval must be > 0")
		}
	}
	if c.Sweep.Concurrency < 1 {
		errs = append(errs, "sweep: concurrency must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
			errs = append(errs, "server: rate_limit and rate_burst must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
