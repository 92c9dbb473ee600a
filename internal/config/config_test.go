package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func env(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Admission.TrustProxy, "proxy headers are trusted by default")
	assert.Equal(t, 500*time.Millisecond, cfg.Admission.PerClient.Period)
	assert.Equal(t, 25, cfg.Admission.PerClient.Burst)
	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, 1000, cfg.Endpoints[0].Global.RPS)
	assert.Less(t, cfg.Endpoints[1].Global.RPS, cfg.Endpoints[0].Global.RPS)
	assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr())
}

func TestLoad(t *testing.T) {
	path := writeTempFile(t, `
server:
  port: 8080
  request_timeout: 3s
storage:
  dir: /srv/parquet
  load_timeout: 2s
admission:
  trust_proxy: false
  per_client:
    enabled: true
    period: 250ms
    burst: 10
endpoints:
  - path: /ark_holdings
    name: ark_holdings
    tickers: etf
    global:
      rps: 50
      backlog: 0
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset fields keep defaults")
	assert.Equal(t, 3*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "/srv/parquet", cfg.Storage.Dir)
	assert.Equal(t, 2*time.Second, cfg.Storage.LoadTimeout)
	assert.False(t, cfg.Admission.TrustProxy)
	assert.Equal(t, 250*time.Millisecond, cfg.Admission.PerClient.Period)
	require.Len(t, cfg.Endpoints, 1)
	assert.Equal(t, 50, cfg.Endpoints[0].Global.RPS)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	_, err = Load(writeTempFile(t, "server: [not, a, map]"))
	assert.ErrorContains(t, err, "failed to parse config YAML")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"HTTP_PORT":  "9000",
		"DATA_DIR":   "/data",
		"NGINX":      "FALSE",
		"REDIS_ADDR": "redis:6379",
		"PG_DSN":     "postgres://u@h/db",
		"LOG_LEVEL":  "warn",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/data", cfg.Storage.Dir)
	assert.False(t, cfg.Admission.TrustProxy)
	assert.Equal(t, "redis:6379", cfg.Admission.Redis.Addr)
	assert.Equal(t, "postgres://u@h/db", cfg.Storage.Postgres.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.ApplyEnv(env(map[string]string{"NGINX": "maybe"})), "NGINX must be a boolean")
	assert.ErrorContains(t, cfg.ApplyEnv(env(map[string]string{"HTTP_PORT": "http"})), "HTTP_PORT")

	// Unset NGINX keeps the default.
	cfg = Default()
	require.NoError(t, cfg.ApplyEnv(env(nil)))
	assert.True(t, cfg.Admission.TrustProxy)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"postgres dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }, "storage.postgres.dsn"},
		{"dir", func(c *Config) { c.Storage.Dir = "" }, "storage.dir"},
		{"burst", func(c *Config) { c.Admission.PerClient.Burst = 0 }, "admission.per_client.burst"},
		{"sweep interval", func(c *Config) { c.Admission.SweepInterval = 0 }, "admission.sweep_interval"},
		{"negative sweep interval", func(c *Config) { c.Admission.SweepInterval = -time.Second }, "admission.sweep_interval"},
		{"no endpoints", func(c *Config) { c.Endpoints = nil }, "at least one endpoint"},
		{"dup path", func(c *Config) { c.Endpoints[1].Path = c.Endpoints[0].Path }, "declared twice"},
		{"bad path", func(c *Config) { c.Endpoints[0].Path = "ark" }, "endpoints[0].path"},
		{"rps", func(c *Config) { c.Endpoints[1].Global.RPS = 0 }, "endpoints[1].global.rps"},
		{"max wait", func(c *Config) { c.Endpoints[0].Global.MaxWait = 0 }, "max_wait"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidateSweepIntervalIgnoredWithoutPerClient(t *testing.T) {
	cfg := Default()
	cfg.Admission.PerClient.Enabled = false
	cfg.Admission.SweepInterval = 0
	assert.NoError(t, cfg.Validate())
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "arkholdings.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
