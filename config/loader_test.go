package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, "aeroflow", cfg.Redis.KeyPrefix)
	assert.Equal(t, "flights.db", cfg.FlightDB.Path)
	assert.Equal(t, 60*time.Second, cfg.Engine.TurnTimeout)
	assert.Equal(t, 5, cfg.Engine.ContextTurns)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoaderWithoutFile(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoaderMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "no-such.yaml")).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoaderFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  http_port: 9000
  shutdown_timeout: 5s
redis:
  addr: "redis.internal:6379"
  pool_size: 32
  checkpoint_ttl: 24h
flightdb:
  path: ":memory:"
engine:
  turn_timeout: 90s
  context_turns: 8
  exact_token_count: true
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 32, cfg.Redis.PoolSize)
	assert.Equal(t, 24*time.Hour, cfg.Redis.CheckpointTTL)
	assert.Equal(t, ":memory:", cfg.FlightDB.Path)
	assert.Equal(t, 90*time.Second, cfg.Engine.TurnTimeout)
	assert.Equal(t, 8, cfg.Engine.ContextTurns)
	assert.True(t, cfg.Engine.ExactTokenCount)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// 未出现在文件中的字段保持默认值
	assert.Equal(t, "aeroflow", cfg.Redis.KeyPrefix)
	assert.Equal(t, []string{"stdout"}, cfg.Log.OutputPaths)
}

func TestLoaderInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config from file")
}

func TestLoaderEnvOverride(t *testing.T) {
	t.Setenv("AEROFLOW_SERVER_HTTP_PORT", "8888")
	t.Setenv("AEROFLOW_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("AEROFLOW_REDIS_DB", "3")
	t.Setenv("AEROFLOW_ENGINE_TURN_TIMEOUT", "45s")
	t.Setenv("AEROFLOW_ENGINE_EXACT_TOKEN_COUNT", "true")
	t.Setenv("AEROFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/aeroflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, "10.0.0.5:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 45*time.Second, cfg.Engine.TurnTimeout)
	assert.True(t, cfg.Engine.ExactTokenCount)
	assert.Equal(t, []string{"stdout", "/var/log/aeroflow.log"}, cfg.Log.OutputPaths)
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0o644))

	t.Setenv("AEROFLOW_SERVER_HTTP_PORT", "9500")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 9500, cfg.Server.HTTPPort)
}

func TestLoaderCustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_REDIS_KEY_PREFIX", "myapp")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "myapp", cfg.Redis.KeyPrefix)
}

func TestLoaderValidator(t *testing.T) {
	t.Setenv("AEROFLOW_SERVER_HTTP_PORT", "0")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "port out of range",
			mutate: func(c *Config) { c.Server.HTTPPort = 70000 },
			want:   "invalid HTTP port",
		},
		{
			name:   "zero pool size",
			mutate: func(c *Config) { c.Redis.PoolSize = 0 },
			want:   "pool_size must be positive",
		},
		{
			name:   "zero context turns",
			mutate: func(c *Config) { c.Engine.ContextTurns = 0 },
			want:   "context_turns must be positive",
		},
		{
			name:   "negative token budget",
			mutate: func(c *Config) { c.Engine.TokenBudget = -1 },
			want:   "token_budget must not be negative",
		},
		{
			name:   "empty flightdb path",
			mutate: func(c *Config) { c.FlightDB.Path = "" },
			want:   "path must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
