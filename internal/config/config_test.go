package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "mysql", cfg.StoreDriver)
	require.Equal(t, 30*time.Second, cfg.Bidding.SoftCloseThreshold)
	require.Equal(t, 30*time.Second, cfg.Bidding.SoftCloseExtension)
	require.Equal(t, 5*time.Second, cfg.Scheduler.FastDelay)
	require.Equal(t, 30*time.Second, cfg.Scheduler.DefaultDelay)
	require.Equal(t, 60*time.Second, cfg.Scheduler.UrgentHorizon)
	require.Equal(t, 30*time.Second, cfg.Realtime.PingInterval)
}

func TestParse_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Parse()
	require.Error(t, err)
}

func TestParse_RejectsUnknownStore(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "postgres")
	_, err := Parse()
	require.ErrorContains(t, err, "STORE_DRIVER")
}

func TestParse_RateLimitShorthands(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, 7, cfg.RateLimit.Capacity)
	require.Equal(t, 1, cfg.RateLimit.RefillTokens)
	require.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	require.Equal(t, 10*time.Second, cfg.RateLimit.TTL)
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=from-file\nAPP_PORT=9090\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("APP_PORT", "")
	require.NoError(t, os.Unsetenv("JWT_SECRET"))
	require.NoError(t, os.Unsetenv("APP_PORT"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.JWTSecret)
	require.Equal(t, "9090", cfg.Port)
}

func TestRedisConfig_Address(t *testing.T) {
	require.Equal(t, "localhost:6379", RedisConfig{}.Address())
	require.Equal(t, "r:1", RedisConfig{Host: "r", Port: "1"}.Address())
	require.Equal(t, "a:2", RedisConfig{Host: "r", Port: "1", Addr: "a:2"}.Address())
}
