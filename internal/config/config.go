// Package config handles configuration loading, validation, and defaults
// for keyfilterd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"keyfilterd/internal/filter"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Features selects the accessibility filters to install.
	Features FeaturesConfig `toml:"features"`

	// Devices controls which input devices events are read from.
	Devices DevicesConfig `toml:"devices"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging"`

	// IPC configuration for the D-Bus control interface.
	IPC IPCConfig `toml:"ipc"`
}

// FeaturesConfig selects accessibility filters. A threshold of 0 disables
// the corresponding feature.
type FeaturesConfig struct {
	// StickyKeys latches modifier keys instead of requiring them to be
	// held.
	StickyKeys bool `toml:"sticky_keys"`

	// SlowKeysThresholdMs is how long a key must stay down before it
	// registers, in milliseconds.
	SlowKeysThresholdMs int64 `toml:"slow_keys_threshold_ms"`

	// BounceKeysThresholdMs is the window after a key release during
	// which a re-press of the same key is ignored, in milliseconds.
	BounceKeysThresholdMs int64 `toml:"bounce_keys_threshold_ms"`
}

// DevicesConfig controls device selection for the evdev source.
type DevicesConfig struct {
	// Grab takes exclusive ownership of the keyboards being filtered so
	// unfiltered events do not reach other readers.
	Grab bool `toml:"grab"`

	// IncludeInternal also reads built-in (non-USB) keyboards.
	IncludeInternal bool `toml:"include_internal"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format"`

	// Output is "stdout" or "stderr".
	Output string `toml:"output"`
}

// IPCConfig holds the D-Bus control surface configuration.
type IPCConfig struct {
	// Enabled exposes the control interface on the session bus.
	Enabled bool `toml:"enabled"`
}

// Default returns the default configuration: all accessibility features
// off, text logging to stderr, IPC enabled.
func Default() *Config {
	return &Config{
		Devices: DevicesConfig{
			Grab:            false,
			IncludeInternal: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		IPC: IPCConfig{
			Enabled: true,
		},
	}
}

// DefaultPath returns the platform default config file path.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "keyfilterd", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "keyfilterd", "config.toml")
}

// Load reads and validates a config file. Missing file is not an error:
// defaults are returned so the daemon can start unconfigured.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FilterConfig converts the features section into the filter chain
// configuration.
func (c *Config) FilterConfig() filter.Config {
	return filter.Config{
		StickyKeysEnabled:     c.Features.StickyKeys,
		SlowKeysThresholdNs:   c.Features.SlowKeysThresholdMs * int64(time.Millisecond),
		BounceKeysThresholdNs: c.Features.BounceKeysThresholdMs * int64(time.Millisecond),
	}
}
