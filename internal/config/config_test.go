package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"/var/log/cowrie/cowrie.json"}, cfg.Honeypot.LogPaths)
	assert.Equal(t, 24, cfg.Honeypot.HistoryHours)
	assert.Equal(t, 10000, cfg.Filter.MaxLogs)
	assert.Equal(t, 1000, cfg.Filter.MaxSessions)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout())
	assert.Equal(t, 60*time.Second, cfg.SweepInterval())
	assert.Equal(t, 24*time.Hour, cfg.HistoryWindow())
	assert.True(t, cfg.Alerts.OnHighRisk)
	assert.Equal(t, ":8084", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "potwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
honeypot:
  log_paths:
    - /srv/pot/a.json
    - /srv/pot/b.json
  history_hours: 6
filter:
  max_logs: 500
  max_sessions: 50
session:
  timeout_minutes: 10
  sweep_interval_seconds: 15
alerts:
  on_login_success: false
  on_commands: [miner, tor]
  ip_blacklist: [203.0.113.0/24]
threat_intel:
  enabled: false
http:
  addr: ":9090"
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/srv/pot/a.json", "/srv/pot/b.json"}, cfg.Honeypot.LogPaths)
	assert.Equal(t, 6*time.Hour, cfg.HistoryWindow())
	assert.Equal(t, 500, cfg.Filter.MaxLogs)
	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout())
	assert.Equal(t, 15*time.Second, cfg.SweepInterval())
	assert.False(t, cfg.Alerts.OnLoginSuccess)
	assert.Equal(t, []string{"miner", "tor"}, cfg.Alerts.OnCommands)
	assert.Equal(t, []string{"203.0.113.0/24"}, cfg.Alerts.IPBlacklist)
	assert.False(t, cfg.ThreatIntel.Enabled)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POTWATCH_LOG_PATHS", "/a.json, /b.json")
	t.Setenv("POTWATCH_MAX_LOGS", "42")
	t.Setenv("POTWATCH_SESSION_TIMEOUT_MINUTES", "5")
	t.Setenv("POTWATCH_HTTP_ADDR", ":7070")
	t.Setenv("POTWATCH_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"/a.json", "/b.json"}, cfg.Honeypot.LogPaths)
	assert.Equal(t, 42, cfg.Filter.MaxLogs)
	assert.Equal(t, 5*time.Minute, cfg.SessionTimeout())
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "potwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("filter:\n  max_logs: 500\n"), 0o644))
	t.Setenv("POTWATCH_MAX_LOGS", "900")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.Filter.MaxLogs)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no log paths", func(c *Config) { c.Honeypot.LogPaths = nil }},
		{"zero max logs", func(c *Config) { c.Filter.MaxLogs = 0 }},
		{"negative max sessions", func(c *Config) { c.Filter.MaxSessions = -1 }},
		{"zero timeout", func(c *Config) { c.Session.TimeoutMinutes = 0 }},
		{"zero sweep", func(c *Config) { c.Session.SweepIntervalSeconds = 0 }},
		{"negative history", func(c *Config) { c.Honeypot.HistoryHours = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	valid := Default()
	assert.NoError(t, valid.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestUnlimitedHistory(t *testing.T) {
	cfg := Default()
	cfg.Honeypot.HistoryHours = 0
	assert.Zero(t, cfg.HistoryWindow())
	assert.NoError(t, cfg.Validate())
}
