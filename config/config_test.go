package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/webhook"
)

func TestLoad(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg, err := config.Load(t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, config.DriverRedis, cfg.StoreDriver)
		assert.Equal(t, webhook.DefaultRetryPolicy(), cfg.RetryPolicy())
		assert.Equal(t, 5*time.Second, cfg.IdleInterval())
		assert.Equal(t, 7*24*time.Hour, cfg.DeliveredTTL())
		assert.Equal(t, 30*24*time.Hour, cfg.FailedTTL())
		assert.Equal(t, "subscribers.yaml", cfg.SubscribersFile)
		assert.True(t, cfg.SubscribersWatch)
	})

	t.Run("file values", func(t *testing.T) {
		dir := t.TempDir()
		content := `
PORT = "9090"
STORE_DRIVER = "postgres"
POSTGRES_DSN = "postgres://localhost/webhooks"
WEBHOOK_MAX_RETRIES = 5
WEBHOOK_CIRCUIT_BREAKER_ENABLED = false
SUBSCRIBERS_WATCH = false
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))

		cfg, err := config.Load(dir)
		require.NoError(t, err)

		assert.Equal(t, "9090", cfg.Port)
		assert.Equal(t, config.DriverPostgres, cfg.StoreDriver)
		assert.Equal(t, 5, cfg.RetryPolicy().MaxRetries)
		assert.False(t, cfg.RetryPolicy().EnableCircuitBreaker)
		assert.False(t, cfg.SubscribersWatch)
	})

	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("PORT", "7070")
		t.Setenv("WEBHOOK_INITIAL_DELAY_MS", "250")

		cfg, err := config.Load(t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, "7070", cfg.Port)
		assert.Equal(t, 250*time.Millisecond, cfg.RetryPolicy().InitialDelay)
	})

	t.Run("error - unknown driver", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "mongo")

		_, err := config.Load(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown STORE_DRIVER")
	})

	t.Run("error - postgres without dsn", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "postgres")

		_, err := config.Load(t.TempDir())
		require.Error(t, err)
	})

	t.Run("error - invalid policy", func(t *testing.T) {
		t.Setenv("WEBHOOK_BACKOFF_MULTIPLIER", "1")

		_, err := config.Load(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "default retry policy")
	})

	t.Run("error - malformed file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT = = ="), 0o600))

		_, err := config.Load(dir)
		require.Error(t, err)
	})
}
