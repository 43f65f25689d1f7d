package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "high", cfg.Security.DefaultPreset)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
store:
  type: badger
  badger:
    path: /var/lib/mail
security:
  default_preset: maximum
scheduler:
  grace_period: 2s
  sweep_interval: 1m
`), 0o600))

	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT_READ", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "badger", cfg.Store.Type)
	assert.Equal(t, "/var/lib/mail", cfg.Store.Badger.Path)
	assert.Equal(t, "maximum", cfg.Security.DefaultPreset)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.GracePeriod)
	assert.Equal(t, time.Minute, cfg.Scheduler.SweepInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.RateLimit.ReadPerMin)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"store type", func(c *Config) { c.Store.Type = "etcd" }},
		{"redis addr", func(c *Config) { c.Store.Type = "redis"; c.Store.Redis.Addr = "" }},
		{"preset", func(c *Config) { c.Security.DefaultPreset = "paranoid" }},
		{"server key", func(c *Config) { c.Security.ServerKey = "short" }},
		{"grace", func(c *Config) { c.Scheduler.GracePeriod = -time.Second }},
		{"sweep", func(c *Config) { c.Scheduler.SweepInterval = 0 }},
		{"rate limit", func(c *Config) { c.RateLimit.ReadPerMin = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
