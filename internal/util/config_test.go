package util_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rryowa/sessiond/internal/util"
)

func TestSessionConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_EXPIRY_BUFFER", "")
	t.Setenv("SESSION_MIN_REFRESH_DELAY", "")
	t.Setenv("SESSION_BACKOFF_BASE", "")
	t.Setenv("SESSION_MAX_REFRESH_ATTEMPTS", "")

	cfg := util.NewSessionConfig()
	require.Equal(t, 60*time.Second, cfg.ExpiryBuffer)
	require.Equal(t, 10*time.Second, cfg.MinRefreshDelay)
	require.Equal(t, time.Second, cfg.BackoffBase)
	require.Equal(t, 3, cfg.MaxRefreshAttempts)
}

func TestSessionConfigEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_EXPIRY_BUFFER", "90s")
	t.Setenv("SESSION_MAX_REFRESH_ATTEMPTS", "5")

	cfg := util.NewSessionConfig()
	require.Equal(t, 90*time.Second, cfg.ExpiryBuffer)
	require.Equal(t, 5, cfg.MaxRefreshAttempts)
}

func TestDBConfigRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := util.NewDBConfig()
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/kv")
	cfg, err := util.NewDBConfig()
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/kv", cfg.DSN)
}

func TestRedisConfigRequiresAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")

	_, err := util.NewRedisConfig()
	require.Error(t, err)

	t.Setenv("REDIS_ADDR", "localhost:6379")
	cfg, err := util.NewRedisConfig()
	require.NoError(t, err)
	require.Equal(t, "localhost:6379", cfg.Addr)
}
