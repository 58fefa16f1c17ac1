package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TRANSFER_TOKEN_SECRET", secret)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Search.BulkheadWait)
	assert.Equal(t, 3, cfg.Cancellation.MaxRetries)
	assert.Equal(t, time.Hour, cfg.Cancellation.TaskExpiry)
	assert.Equal(t, 5*time.Second, cfg.Cancellation.SyncTimeout)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.Suppliers["mock1"].Enabled)
	assert.Equal(t, 2, cfg.Suppliers["mock2"].PollRounds)
	assert.Contains(t, cfg.TenantSuppliers(), "default")
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
search:
  timeout: 2s
  circuit_open_fallback: true
log:
  level: debug
tenants:
  acme:
    suppliers: [mock1, mock3]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("TRANSFER_TOKEN_SECRET", secret)
	t.Setenv("TRANSFER_SEARCH_TIMEOUT", "1500ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.Search.Timeout)
	assert.True(t, cfg.Search.CircuitOpenFallback)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.Equal(t, []string{"mock1", "mock3"}, cfg.TenantSuppliers()["acme"])
}

func TestLoad_RejectsShortSecret(t *testing.T) {
	t.Setenv("TRANSFER_TOKEN_SECRET", "short")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token.secret")
}

func TestValidate(t *testing.T) {
	t.Setenv("TRANSFER_TOKEN_SECRET", secret)
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"UnknownDriver", func(c *Config) { c.Store.Driver = "etcd" }, "store.driver"},
		{"RedisWithoutURL", func(c *Config) { c.Store.Driver, c.Store.RedisURL = "redis", "" }, "store.redis_url"},
		{"ZeroTimeout", func(c *Config) { c.Search.Timeout = 0 }, "search.timeout"},
		{"EmptyBulkhead", func(c *Config) { c.Search.BulkheadSize = 0 }, "search.bulkhead_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
