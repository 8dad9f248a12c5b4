// Package config loads the monitor's configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree.
type Config struct {
	Honeypot    HoneypotConfig    `yaml:"honeypot"`
	Filter      FilterConfig      `yaml:"filter"`
	Session     SessionConfig     `yaml:"session"`
	Alerts      AlertConfig       `yaml:"alerts"`
	ThreatIntel ThreatIntelConfig `yaml:"threat_intel"`
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// HoneypotConfig locates the log files to follow.
type HoneypotConfig struct {
	LogPaths []string `yaml:"log_paths"`
	// HistoryHours bounds the replay of pre-existing log content.
	// Zero replays everything.
	HistoryHours int `yaml:"history_hours"`
}

// FilterConfig bounds the in-memory store and controls search matching.
type FilterConfig struct {
	MaxLogs       int  `yaml:"max_logs"`
	MaxSessions   int  `yaml:"max_sessions"`
	CaseSensitive bool `yaml:"case_sensitive"`
}

// SessionConfig tunes session finalization.
type SessionConfig struct {
	TimeoutMinutes       int `yaml:"timeout_minutes"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// AlertConfig arms the alert triggers.
type AlertConfig struct {
	OnLoginSuccess      bool     `yaml:"on_login_success"`
	OnFileUpload        bool     `yaml:"on_file_upload"`
	OnSuspiciousCommand bool     `yaml:"on_suspicious_command"`
	OnNewSourceIP       bool     `yaml:"on_new_source_ip"`
	OnBlacklistedIP     bool     `yaml:"on_blacklisted_ip"`
	OnHighRisk          bool     `yaml:"on_high_risk"`
	OnCommands          []string `yaml:"on_commands"`
	IPBlacklist         []string `yaml:"ip_blacklist"`
	IPWhitelist         []string `yaml:"ip_whitelist"`
	DedupeSize          int      `yaml:"dedupe_size"`
}

// ThreatIntelConfig controls the reputation provider.
type ThreatIntelConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Feeds        []string `yaml:"feeds"`
	SeedExamples bool     `yaml:"seed_examples"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() Config {
	return Config{
		Honeypot: HoneypotConfig{
			LogPaths:     []string{"/var/log/cowrie/cowrie.json"},
			HistoryHours: 24,
		},
		Filter: FilterConfig{
			MaxLogs:     10000,
			MaxSessions: 1000,
		},
		Session: SessionConfig{
			TimeoutMinutes:       30,
			SweepIntervalSeconds: 60,
		},
		Alerts: AlertConfig{
			OnLoginSuccess:      true,
			OnFileUpload:        true,
			OnSuspiciousCommand: true,
			OnNewSourceIP:       true,
			OnBlacklistedIP:     true,
			OnHighRisk:          true,
			DedupeSize:          1024,
		},
		ThreatIntel: ThreatIntelConfig{
			Enabled:      true,
			SeedExamples: true,
		},
		HTTP: HTTPConfig{
			Addr: ":8084",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration from path (optional, empty skips the file),
// applies environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers POTWATCH_* environment variables over the loaded values.
func (c *Config) applyEnv() {
	if paths := getEnv("POTWATCH_LOG_PATHS", ""); paths != "" {
		c.Honeypot.LogPaths = splitList(paths)
	}
	c.Honeypot.HistoryHours = getEnvInt("POTWATCH_HISTORY_HOURS", c.Honeypot.HistoryHours)
	c.Filter.MaxLogs = getEnvInt("POTWATCH_MAX_LOGS", c.Filter.MaxLogs)
	c.Filter.MaxSessions = getEnvInt("POTWATCH_MAX_SESSIONS", c.Filter.MaxSessions)
	c.Session.TimeoutMinutes = getEnvInt("POTWATCH_SESSION_TIMEOUT_MINUTES", c.Session.TimeoutMinutes)
	c.Session.SweepIntervalSeconds = getEnvInt("POTWATCH_SWEEP_INTERVAL_SECONDS", c.Session.SweepIntervalSeconds)
	c.HTTP.Addr = getEnv("POTWATCH_HTTP_ADDR", c.HTTP.Addr)
	c.Logging.Level = getEnv("POTWATCH_LOG_LEVEL", c.Logging.Level)
	if feeds := getEnv("POTWATCH_INTEL_FEEDS", ""); feeds != "" {
		c.ThreatIntel.Feeds = splitList(feeds)
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.Honeypot.LogPaths) == 0 {
		return fmt.Errorf("honeypot.log_paths must not be empty")
	}
	if c.Filter.MaxLogs <= 0 {
		return fmt.Errorf("filter.max_logs must be positive, got %d", c.Filter.MaxLogs)
	}
	if c.Filter.MaxSessions <= 0 {
		return fmt.Errorf("filter.max_sessions must be positive, got %d", c.Filter.MaxSessions)
	}
	if c.Session.TimeoutMinutes <= 0 {
		return fmt.Errorf("session.timeout_minutes must be positive, got %d", c.Session.TimeoutMinutes)
	}
	if c.Session.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("session.sweep_interval_seconds must be positive, got %d", c.Session.SweepIntervalSeconds)
	}
	if c.Honeypot.HistoryHours < 0 {
		return fmt.Errorf("honeypot.history_hours must not be negative, got %d", c.Honeypot.HistoryHours)
	}
	return nil
}

// SessionTimeout returns the session timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMinutes) * time.Minute
}

// SweepInterval returns the sweep cadence as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Session.SweepIntervalSeconds) * time.Second
}

// HistoryWindow returns the replay cutoff window. Zero means unlimited.
func (c *Config) HistoryWindow() time.Duration {
	return time.Duration(c.Honeypot.HistoryHours) * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
