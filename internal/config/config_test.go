package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ogulcanaydogan/costwatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "costwatch.db", filepath.Base(cfg.Storage.Path))
	assert.Equal(t, cfg.Storage.Path, cfg.Storage.Target())

	assert.Zero(t, cfg.Budget.LimitUSD)
	assert.InDelta(t, 3.0, cfg.Budget.SpikeMultiplier, 1e-9)
	assert.Equal(t, time.Hour, cfg.Budget.Cooldown())

	assert.Equal(t, 5*time.Second, cfg.Alerts.Timeout)
	assert.False(t, cfg.Alerts.Slack.Enabled)
	assert.Equal(t, "#llm-costs", cfg.Alerts.Slack.Channel)
	assert.Equal(t, 587, cfg.Alerts.Email.Port)
	assert.Equal(t, "costwatch:alerts", cfg.Alerts.Redis.Key)
	assert.Equal(t, int64(1000), cfg.Alerts.Redis.MaxLen)

	assert.Equal(t, ":8090", cfg.Server.Listen)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, ":8080", cfg.Proxy.Listen)
	assert.Equal(t, 60*time.Second, cfg.Proxy.WriteTimeout)
	assert.Equal(t, int64(10*1024*1024), cfg.Proxy.MaxBodySize)
	assert.True(t, cfg.Proxy.AddCostHeaders)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "default", cfg.Defaults.Agent)
	assert.Empty(t, cfg.Pricing.File)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: /tmp/test.db
budget:
  limit_usd: 10
  hourly_max_usd: 0.5
  cooldown_minutes: 15
alerts:
  timeout: 2s
  email:
    enabled: true
    host: smtp.example.com
    from: costwatch@example.com
    to: [ops@example.com, finance@example.com]
server:
  listen: ":9090"
logging:
  level: debug
defaults:
  agent: planner
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Storage.Path)
	assert.InDelta(t, 10.0, cfg.Budget.LimitUSD, 1e-9)
	assert.InDelta(t, 0.5, cfg.Budget.HourlyMaxUSD, 1e-9)
	assert.Equal(t, 15*time.Minute, cfg.Budget.Cooldown())
	assert.Equal(t, 2*time.Second, cfg.Alerts.Timeout)
	assert.True(t, cfg.Alerts.Email.Enabled)
	assert.Equal(t, []string{"ops@example.com", "finance@example.com"}, cfg.Alerts.Email.To)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "planner", cfg.Defaults.Agent)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COSTWATCH_LOGGING_LEVEL", "error")
	t.Setenv("COSTWATCH_SERVER_LISTEN", ":7070")
	t.Setenv("COSTWATCH_BUDGET_LIMIT_USD", "25.5")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, ":7070", cfg.Server.Listen)
	assert.InDelta(t, 25.5, cfg.Budget.LimitUSD, 1e-9)
}

func TestLoad_Postgres(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: postgres
  dsn: postgres://costwatch@localhost/costwatch?sslmode=disable
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://costwatch@localhost/costwatch?sslmode=disable", cfg.Storage.Target())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"postgres without dsn", "storage:\n  driver: postgres\n"},
		{"unknown driver", "storage:\n  driver: mysql\n"},
		{"negative spike ceiling", "budget:\n  hourly_max_usd: -1\n"},
		{"zero multiplier", "budget:\n  spike_multiplier: 0\n"},
		{"negative cooldown", "budget:\n  cooldown_minutes: -5\n"},
		{"zero alert timeout", "alerts:\n  timeout: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	_, err := config.Load(writeConfig(t, "invalid: [yaml"))
	assert.Error(t, err)
}
