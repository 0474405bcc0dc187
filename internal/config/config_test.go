package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	require.Equal(t, "eventcore", cfg.AppName)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "postgres", cfg.DBType)
	require.True(t, cfg.VerifySignatures)
	require.Equal(t, 10*time.Second, cfg.DispatchTimeout)
	require.Equal(t, 1000, cfg.ResponseBodyLimit)
	require.Equal(t, 24*time.Hour, cfg.MaxBackoff)
	require.Equal(t, 30*time.Second, cfg.SweepInterval)
	require.Equal(t, 50, cfg.SweepBatchSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VERIFY_WEBHOOK_SIGNATURES", "off")
	t.Setenv("DISPATCH_TIMEOUT", "3s")
	t.Setenv("DISPATCH_MAX_BACKOFF", "1h")
	t.Setenv("SWEEP_BATCH_SIZE", "10")
	t.Setenv("REDIS_ADDR", " localhost:6379 ")

	cfg := Load()

	require.False(t, cfg.VerifySignatures)
	require.Equal(t, 3*time.Second, cfg.DispatchTimeout)
	require.Equal(t, time.Hour, cfg.MaxBackoff)
	require.Equal(t, 10, cfg.SweepBatchSize)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestGetenvFallbacks(t *testing.T) {
	t.Setenv("DISPATCH_TIMEOUT", "not-a-duration")
	t.Setenv("SWEEP_BATCH_SIZE", "not-a-number")
	t.Setenv("VERIFY_WEBHOOK_SIGNATURES", "maybe")

	cfg := Load()

	require.Equal(t, 10*time.Second, cfg.DispatchTimeout)
	require.Equal(t, 50, cfg.SweepBatchSize)
	require.True(t, cfg.VerifySignatures)
}
