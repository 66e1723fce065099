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
// built-in defaults, applies OPINIONBOOK_* environment variable overrides, and
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

// applyEnvOverrides reads well-known OPINIONBOOK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Backend, "OPINIONBOOK_STORE_BACKEND")
	setFloat64(&cfg.Store.SeedBalance, "OPINIONBOOK_STORE_SEED_BALANCE")

	// ── Database ──
	setStr(&cfg.Database.DSN, "OPINIONBOOK_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "OPINIONBOOK_DATABASE_HOST")
	setInt(&cfg.Database.Port, "OPINIONBOOK_DATABASE_PORT")
	setStr(&cfg.Database.Database, "OPINIONBOOK_DATABASE_NAME")
	setStr(&cfg.Database.User, "OPINIONBOOK_DATABASE_USER")
	setStr(&cfg.Database.Password, "OPINIONBOOK_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "OPINIONBOOK_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "OPINIONBOOK_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "OPINIONBOOK_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "OPINIONBOOK_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "OPINIONBOOK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPINIONBOOK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPINIONBOOK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPINIONBOOK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPINIONBOOK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPINIONBOOK_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "OPINIONBOOK_REDIS_CACHE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "OPINIONBOOK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OPINIONBOOK_S3_REGION")
	setStr(&cfg.S3.Bucket, "OPINIONBOOK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OPINIONBOOK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OPINIONBOOK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OPINIONBOOK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OPINIONBOOK_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setFloat64(&cfg.Engine.WinPayout, "OPINIONBOOK_ENGINE_WIN_PAYOUT")
	setInt(&cfg.Engine.MaxCommitRetries, "OPINIONBOOK_ENGINE_MAX_COMMIT_RETRIES")
	setDuration(&cfg.Engine.LockTTL, "OPINIONBOOK_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.LockWait, "OPINIONBOOK_ENGINE_LOCK_WAIT")

	// ── Oracle ──
	setStr(&cfg.Oracle.Kind, "OPINIONBOOK_ORACLE_KIND")
	setStr(&cfg.Oracle.BaseURL, "OPINIONBOOK_ORACLE_BASE_URL")
	setFloat64(&cfg.Oracle.Latitude, "OPINIONBOOK_ORACLE_LATITUDE")
	setFloat64(&cfg.Oracle.Longitude, "OPINIONBOOK_ORACLE_LONGITUDE")
	setDuration(&cfg.Oracle.Timeout, "OPINIONBOOK_ORACLE_TIMEOUT")
	setInt(&cfg.Oracle.MaxRetries, "OPINIONBOOK_ORACLE_MAX_RETRIES")
	setFloat64(&cfg.Oracle.StaticValue, "OPINIONBOOK_ORACLE_STATIC_VALUE")

	// ── Sweep ──
	setDuration(&cfg.Sweep.Interval, "OPINIONBOOK_SWEEP_INTERVAL")
	setInt(&cfg.Sweep.Concurrency, "OPINIONBOOK_SWEEP_CONCURRENCY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OPINIONBOOK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OPINIONBOOK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OPINIONBOOK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "OPINIONBOOK_SERVER_ADMIN_API_KEY")
	setFloat64(&cfg.Server.RateLimit, "OPINIONBOOK_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "OPINIONBOOK_SERVER_RATE_BURST")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OPINIONBOOK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OPINIONBOOK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OPINIONBOOK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OPINIONBOOK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "OPINIONBOOK_MODE")
	setStr(&cfg.LogLevel, "OPINIONBOOK_LOG_LEVEL")
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
