package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "privymarket.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
	assert.Equal(t, 7*24*time.Hour, cfg.Ledger.ClaimWindow.Duration)
	assert.Equal(t, "server", cfg.Mode)
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "FULL"

[ledger]
backend = "postgres"
claim_window = "48h"
faucet_enabled = true

[postgres]
dsn = "postgres://privy:hunter2@db:5432/privy"

[s3]
enabled = true
bucket = "settled"
prefix = "prod/"

[archive]
enabled = true
interval = "90s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "postgres", cfg.Ledger.Backend)
	assert.Equal(t, 48*time.Hour, cfg.Ledger.ClaimWindow.Duration)
	assert.True(t, cfg.Ledger.FaucetEnabled)
	assert.Equal(t, "settled", cfg.S3.Bucket)
	assert.Equal(t, 90*time.Second, cfg.Archive.Interval.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Server.MaxSkew.Duration)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[ledger]
backnd = "memory"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.backnd")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRIVY_LEDGER_BACKEND", "memory")
	t.Setenv("PRIVY_LEDGER_FAUCET_MAX", "42")
	t.Setenv("PRIVY_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("PRIVY_SERVER_MAX_SKEW", "30s")
	t.Setenv("PRIVY_REDIS_ENABLED", "true")
	t.Setenv("PRIVY_REDIS_POOL_SIZE", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Ledger.Backend)
	assert.Equal(t, uint64(42), cfg.Ledger.FaucetMax)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.Server.MaxSkew.Duration)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 20, cfg.Redis.PoolSize, "unparseable values are ignored")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Ledger.Backend = "etcd"
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	cfg.Notify.TelegramToken = "token"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		`unknown backend "etcd"`,
		"redis: addr",
		"telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateArchiveNeedsS3(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archiver"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: s3 must be enabled")

	cfg.S3.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestValidateMemoryBackendArchiver(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archiver"
	cfg.S3.Enabled = true
	cfg.Ledger.Backend = "memory"
	require.Error(t, cfg.Validate())
}

func TestValidateClaimWindowSeconds(t *testing.T) {
	cfg := Defaults()
	cfg.Ledger.ClaimWindow.Duration = 1500 * time.Millisecond
	require.Error(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Notify.TelegramToken = "tg-secret"
	cfg.AMQP.URL = "amqp://svc:rabbit-secret@mq:5672/privy"

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "", out.S3.AccessKey, "empty values stay empty")
	assert.Equal(t, "amqp://svc:***@mq:5672/privy", out.AMQP.URL)

	// The original is untouched.
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)
	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
