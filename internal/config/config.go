// Package config provides configuration loading and defaults for the sigmsg
// daemon.
//
// Configuration is loaded from a TOML file in the user's data directory. It
// covers logging, which signals the daemon reports, the Prometheus endpoint,
// and webhook forwarding.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/sigmsg/bridge"
	"tools.zach/dev/sigmsg/internal/atomicfile"
	"tools.zach/dev/sigmsg/internal/logger"
	"tools.zach/dev/sigmsg/internal/migrate"
	"tools.zach/dev/sigmsg/internal/paths"
)

// MaxSubscribers caps [WatchConfig.Subscribers].
const MaxSubscribers = 64

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Config is the top-level daemon configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
	// Watch selects which signals are reported and how the daemon reacts.
	Watch WatchConfig `toml:"watch"`
	// Metrics holds the Prometheus endpoint settings.
	Metrics MetricsConfig `toml:"metrics"`
	// Webhook holds signal forwarding settings.
	Webhook WebhookConfig `toml:"webhook"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fail).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
	// MaxBackups is the number of rotated log files kept.
	MaxBackups int `toml:"max_backups"`
	// MaxAgeDays deletes rotated files older than this. Zero keeps them.
	MaxAgeDays int `toml:"max_age_days"`
}

// WatchConfig selects signals and daemon reactions.
type WatchConfig struct {
	// Include lists doublestar patterns over signal names (e.g. "SIG*", "SIGHUP").
	Include []string `toml:"include"`
	// Exclude lists patterns removed from the included set.
	Exclude []string `toml:"exclude"`
	// ExitOnTerminating stops the daemon on SIGINT or SIGTERM.
	ExitOnTerminating bool `toml:"exit_on_terminating"`
	// ReloadOnChange reloads the config when the file changes on disk.
	ReloadOnChange bool `toml:"reload_on_change"`
	// Subscribers is the number of independent receivers the daemon runs.
	Subscribers int `toml:"subscribers"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
	Path    string `toml:"path"`
}

// WebhookConfig holds signal forwarding settings. Forwarding is off when URL
// is empty.
type WebhookConfig struct {
	URL            string  `toml:"url"`
	RatePerSecond  float64 `toml:"rate_per_second"`
	Burst          int     `toml:"burst"`
	RetryMax       int     `toml:"retry_max"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// ///////////////////////////////////////////////
// Defaults
// ///////////////////////////////////////////////

// DefaultConfig returns the configuration used when no file exists and the
// base that a config file is decoded over.
func DefaultConfig() *Config {
	return &Config{
		Version: migrate.Config.CurrentVersion,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Watch: WatchConfig{
			Include:           []string{"SIG*"},
			Exclude:           []string{},
			ExitOnTerminating: true,
			ReloadOnChange:    true,
			Subscribers:       1,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
			Path:    "/metrics",
		},
		Webhook: WebhookConfig{
			URL:            "",
			RatePerSecond:  5,
			Burst:          10,
			RetryMax:       2,
			TimeoutSeconds: 10,
		},
	}
}

// ExampleConfig returns a Config suitable for generating config.default.toml.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// Loading
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes. A missing or
// zero version is reported as 1. Malformed TOML is an error so nothing is
// migrated or backed up on its account.
func PeekVersion(data []byte) (int, error) {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("parse config: %w", err)
	}
	if v.Version == 0 {
		return 1, nil
	}
	return v.Version, nil
}

// Load reads config.toml from dataDir over [DefaultConfig]. A missing file
// yields the defaults. Older schema versions are migrated, backed up to
// config.toml.bak, and saved back.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version, err := PeekVersion(data)
	if err != nil {
		return nil, err
	}
	if version > migrate.Config.CurrentVersion {
		return nil, fmt.Errorf("config version %d is newer than supported version %d", version, migrate.Config.CurrentVersion)
	}

	migrated := migrate.Config.NeedsMigration(version, false)
	if migrated {
		if err := os.WriteFile(path+".bak", data, 0o644); err != nil {
			slog.Warn("failed to write config backup", "error", err)
		}
		data, _, err = migrate.Config.Run(data, version)
		if err != nil {
			return nil, fmt.Errorf("migrate config: %w", err)
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if migrated {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}
	return cfg, nil
}

// Parse decodes current-version TOML over the defaults and validates it.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parse config: unknown keys %s", strings.Join(keys, ", "))
	}
	cfg.Version = migrate.Config.CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save writes c to path atomically.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if !logger.KnownLevel(c.Log.Level) {
		return fmt.Errorf("invalid log.level %q: must be one of %s", c.Log.Level, strings.Join(logger.LevelNames, ", "))
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}
	if c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_backups must be >= 0, got %d", c.Log.MaxBackups)
	}
	if c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log.max_age_days must be >= 0, got %d", c.Log.MaxAgeDays)
	}

	for _, p := range slices.Concat(c.Watch.Include, c.Watch.Exclude) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid signal pattern %q", p)
		}
	}
	if len(c.Signals()) == 0 {
		return fmt.Errorf("watch.include %q selects no supported signal", c.Watch.Include)
	}
	if c.Watch.Subscribers < 1 || c.Watch.Subscribers > MaxSubscribers {
		return fmt.Errorf("watch.subscribers must be between 1 and %d, got %d", MaxSubscribers, c.Watch.Subscribers)
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen %q: %w", c.Metrics.Listen, err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("invalid metrics.path %q: must start with /", c.Metrics.Path)
		}
	}

	if c.Webhook.URL != "" {
		u, err := url.Parse(c.Webhook.URL)
		if err != nil {
			return fmt.Errorf("invalid webhook.url: %w", err)
		}
		switch u.Scheme {
		case "http", "https":
		default:
			return fmt.Errorf("invalid webhook.url %q: scheme must be http or https", c.Webhook.URL)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid webhook.url %q: missing host", c.Webhook.URL)
		}
	}
	if c.Webhook.RatePerSecond <= 0 {
		return fmt.Errorf("webhook.rate_per_second must be > 0, got %g", c.Webhook.RatePerSecond)
	}
	if c.Webhook.Burst < 1 {
		return fmt.Errorf("webhook.burst must be >= 1, got %d", c.Webhook.Burst)
	}
	if c.Webhook.RetryMax < 0 {
		return fmt.Errorf("webhook.retry_max must be >= 0, got %d", c.Webhook.RetryMax)
	}
	if c.Webhook.TimeoutSeconds <= 0 {
		return fmt.Errorf("webhook.timeout_seconds must be > 0, got %d", c.Webhook.TimeoutSeconds)
	}
	return nil
}

// ///////////////////////////////////////////////
// Signal Selection
// ///////////////////////////////////////////////

// Matches reports whether the signal name is selected by the include and
// exclude patterns. Names are matched in upper case.
func (c *Config) Matches(name string) bool {
	name = strings.ToUpper(name)
	included := false
	for _, p := range c.Watch.Include {
		if ok, _ := doublestar.Match(strings.ToUpper(p), name); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range c.Watch.Exclude {
		if ok, _ := doublestar.Match(strings.ToUpper(p), name); ok {
			return false
		}
	}
	return true
}

// Signals returns the supported signals selected by [Config.Matches], in
// catalog order.
func (c *Config) Signals() []bridge.Signal {
	var out []bridge.Signal
	for _, s := range bridge.All() {
		if c.Matches(s.String()) {
			out = append(out, s)
		}
	}
	return out
}

// RestartRequired lists the settings that differ between c and next but only
// take effect on restart.
func (c *Config) RestartRequired(next *Config) []string {
	var keys []string
	if c.Metrics != next.Metrics {
		keys = append(keys, "metrics")
	}
	if c.Watch.Subscribers != next.Watch.Subscribers {
		keys = append(keys, "watch.subscribers")
	}
	if c.Log.MaxSizeMB != next.Log.MaxSizeMB || c.Log.MaxBackups != next.Log.MaxBackups || c.Log.MaxAgeDays != next.Log.MaxAgeDays {
		keys = append(keys, "log rotation")
	}
	return keys
}
