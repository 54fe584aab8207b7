// Package config loads and layers the daemon's configuration: a
// messages.yaml file under the resolved installation root, overridden field
// by field by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlatformConfig is the per-platform enablement and credential-reference
// block inside messages.yaml. CredentialsRef is an opaque pointer (e.g. a
// keychain entry name or an env var name) resolved by the adapter itself;
// the core never reads secret material out of this struct.
type PlatformConfig struct {
	Enabled        bool   `yaml:"enabled"`
	CredentialsRef string `yaml:"credentials_ref,omitempty"`
}

// Config is the full layered configuration for the daemon.
type Config struct {
	SocketPath string `yaml:"socket_path"`
	PIDFile    string `yaml:"pid_file"`
	LogFile    string `yaml:"log_file"`
	DBPath     string `yaml:"db_path"`

	// Platform startup priority, most reliable first. Empty entries fall
	// back to the built-in default order.
	PlatformPriority []string `yaml:"platform_priority"`

	Platforms map[string]PlatformConfig `yaml:"platforms"`

	// Health monitor tuning.
	CheckIntervalMs        int64 `yaml:"check_interval_ms"`
	StaleThresholdMs       int64 `yaml:"stale_threshold_ms"`
	ErrorWindowMs          int64 `yaml:"error_window_ms"`
	MaxErrorsBeforeUnhealthy int `yaml:"max_errors_before_unhealthy"`

	// Platform manager recovery tuning.
	BackoffScheduleMs []int64 `yaml:"backoff_schedule_ms"`
	MaxAttempts       int     `yaml:"max_attempts"`

	// Notification dispatch channels, e.g. ["log", "email:ops@example.com"].
	NotifyChannels []string          `yaml:"notify_channels"`
	Contacts       map[string]string `yaml:"contacts"`

	// Not read anywhere: content-address ids are always truncated to the
	// constant idgen.MessageIDLength (16), so setting this has no effect.
	MessageIDLength int `yaml:"message_id_length"`

	// Observability: disabled unless explicitly turned on.
	TracingEnabled bool `yaml:"tracing_enabled"`
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// DefaultBackoffScheduleMs is the default recovery schedule: 10s, 30s, 60s,
// 120s, 300s.
var DefaultBackoffScheduleMs = []int64{10_000, 30_000, 60_000, 120_000, 300_000}

// DefaultPlatformPriority is the default adapter startup order, most
// reliable first; shutdown traverses it in reverse.
var DefaultPlatformPriority = []string{"signal", "whatsapp", "discord", "telegram", "gmail"}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		SocketPath:               "/tmp/messages-daemon.sock",
		PIDFile:                  "/tmp/messages-daemon.pid",
		LogFile:                  "",
		DBPath:                   "",
		PlatformPriority:         append([]string(nil), DefaultPlatformPriority...),
		Platforms:                map[string]PlatformConfig{},
		CheckIntervalMs:          60_000,
		StaleThresholdMs:         5 * 60_000,
		ErrorWindowMs:            5 * 60_000,
		MaxErrorsBeforeUnhealthy: 3,
		BackoffScheduleMs:        append([]int64(nil), DefaultBackoffScheduleMs...),
		MaxAttempts:              5,
		NotifyChannels:           []string{"log"},
		Contacts:                 map[string]string{},
		MessageIDLength:          16,
	}
}

// Load reads messages.yaml at path, layering it over Default(). A missing
// file is not an error: the caller gets pure defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 - path resolved by pathresolver, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithEnv calls Load and then applies environment variable overrides.
// Environment variables take precedence over the file.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides individual fields from MESSAGED_* environment
// variables, in place.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MESSAGED_SOCKET_PATH"); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv("MESSAGED_PID_FILE"); v != "" {
		c.PIDFile = v
	}
	if v := os.Getenv("MESSAGED_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("MESSAGED_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("MESSAGED_CHECK_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.CheckIntervalMs = n
		}
	}
	if v := os.Getenv("MESSAGED_STALE_THRESHOLD_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.StaleThresholdMs = n
		}
	}
	if v := os.Getenv("MESSAGED_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxAttempts = n
		}
	}
	if v := os.Getenv("MESSAGED_PLATFORM_PRIORITY"); v != "" {
		c.PlatformPriority = strings.Split(v, ",")
	}
	if v := os.Getenv("MESSAGED_NOTIFY_CHANNELS"); v != "" {
		c.NotifyChannels = strings.Split(v, ",")
	}
	if v := os.Getenv("MESSAGED_TRACING_ENABLED"); v != "" {
		c.TracingEnabled = isTruthy(v)
	}
	if v := os.Getenv("MESSAGED_METRICS_ENABLED"); v != "" {
		c.MetricsEnabled = isTruthy(v)
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// IsPlatformEnabled reports whether platform is enabled, defaulting to
// false for platforms with no explicit entry.
func (c *Config) IsPlatformEnabled(platform string) bool {
	if c.Platforms == nil {
		return false
	}
	pc, ok := c.Platforms[platform]
	return ok && pc.Enabled
}

// Save writes the config back to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
