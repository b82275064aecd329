package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PRIVY_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	cfg.Mode = strings.ToLower(cfg.Mode)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Ledger.Backend = strings.ToLower(cfg.Ledger.Backend)
	return &cfg, nil
}

// applyEnvOverrides reads well-known PRIVY_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.Backend, "PRIVY_LEDGER_BACKEND")
	setDuration(&cfg.Ledger.ClaimWindow, "PRIVY_LEDGER_CLAIM_WINDOW")
	setBool(&cfg.Ledger.FaucetEnabled, "PRIVY_LEDGER_FAUCET_ENABLED")
	setUint64(&cfg.Ledger.FaucetMax, "PRIVY_LEDGER_FAUCET_MAX")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PRIVY_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PRIVY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PRIVY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PRIVY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PRIVY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PRIVY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PRIVY_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PRIVY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PRIVY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PRIVY_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "PRIVY_SQLITE_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PRIVY_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PRIVY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRIVY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRIVY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PRIVY_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "PRIVY_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "PRIVY_REDIS_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PRIVY_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PRIVY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRIVY_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRIVY_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "PRIVY_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "PRIVY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRIVY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PRIVY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PRIVY_S3_FORCE_PATH_STYLE")
	setInt64(&cfg.S3.PartSize, "PRIVY_S3_PART_SIZE")

	// ── AMQP ──
	setBool(&cfg.AMQP.Enabled, "PRIVY_AMQP_ENABLED")
	setStr(&cfg.AMQP.URL, "PRIVY_AMQP_URL")
	setStr(&cfg.AMQP.Exchange, "PRIVY_AMQP_EXCHANGE")

	// ── Server ──
	setStr(&cfg.Server.Addr, "PRIVY_SERVER_ADDR")
	setStringSlice(&cfg.Server.CORSOrigins, "PRIVY_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.MaxSkew, "PRIVY_SERVER_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "PRIVY_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PRIVY_SERVER_RATE_WINDOW")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PRIVY_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "PRIVY_ARCHIVE_INTERVAL")
	setBool(&cfg.Archive.AutoFinalize, "PRIVY_ARCHIVE_AUTO_FINALIZE")
	setDuration(&cfg.Archive.LockTTL, "PRIVY_ARCHIVE_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PRIVY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PRIVY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PRIVY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PRIVY_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PRIVY_MODE")
	setStr(&cfg.LogLevel, "PRIVY_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Helpers: each reads an env var and, if non-empty and parseable, writes it
// into the destination pointer. Parse failures are silently ignored so that a
// mis-typed env var does not crash the process at startup.
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
