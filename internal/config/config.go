// Package config loads the static controller configuration from a YAML
// file. Runtime-tunable values (setpoint, mode, delays) live in the
// settings store instead; this file covers the things that need a restart
// anyway, like pin assignments and file locations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the static configuration for the thermostat daemon.
// Intervals are plain integers with the unit in the field name so the
// YAML stays obvious to edit by hand.
type Config struct {
	// DataDir holds the persisted settings and timer state files.
	DataDir string `yaml:"data_dir"`
	// RelayPin is the BCM pin number driving the heater relay.
	RelayPin int `yaml:"relay_pin"`
	// SensorPath is the sysfs temperature file to read (millidegrees C).
	SensorPath string `yaml:"sensor_path"`

	SensorPollSecs   int `yaml:"sensor_poll_secs"`
	SafetyIntervalMs int `yaml:"safety_interval_ms"`
	TimerPollSecs    int `yaml:"timer_poll_secs"`
	HeartbeatMins    int `yaml:"heartbeat_mins"`

	// MaxSafeTemp is the over-temperature trip point in Fahrenheit.
	MaxSafeTemp float64 `yaml:"max_safe_temp"`
	// SensorStaleSecs is how long without a good reading before the
	// sensor is considered dead.
	SensorStaleSecs int `yaml:"sensor_stale_secs"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		DataDir:          "/var/lib/thermostat",
		RelayPin:         15,
		SensorPath:       "/sys/bus/w1/devices/28-000005e2fdc3/temperature",
		SensorPollSecs:   5,
		SafetyIntervalMs: 1000,
		TimerPollSecs:    5,
		HeartbeatMins:    15,
		MaxSafeTemp:      95,
		SensorStaleSecs:  60,
	}
}

// SensorPoll returns the temperature sampling interval.
func (c Config) SensorPoll() time.Duration {
	return time.Duration(c.SensorPollSecs) * time.Second
}

// SafetyInterval returns the safety check cadence.
func (c Config) SafetyInterval() time.Duration {
	return time.Duration(c.SafetyIntervalMs) * time.Millisecond
}

// TimerPoll returns the countdown poll cadence.
func (c Config) TimerPoll() time.Duration {
	return time.Duration(c.TimerPollSecs) * time.Second
}

// Heartbeat returns the heartbeat interval (0 means disabled).
func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMins) * time.Minute
}

// SensorStaleAfter returns the stale-sensor cutoff.
func (c Config) SensorStaleAfter() time.Duration {
	return time.Duration(c.SensorStaleSecs) * time.Second
}

// Load reads the config at path, creating it with defaults on first run.
// An empty path returns the defaults without touching the filesystem.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.RelayPin < 0 {
		return fmt.Errorf("relay_pin must be >= 0, got %d", c.RelayPin)
	}
	if c.SensorPollSecs <= 0 {
		return fmt.Errorf("sensor_poll_secs must be positive, got %d", c.SensorPollSecs)
	}
	if c.SafetyIntervalMs <= 0 {
		return fmt.Errorf("safety_interval_ms must be positive, got %d", c.SafetyIntervalMs)
	}
	if c.TimerPollSecs <= 0 {
		return fmt.Errorf("timer_poll_secs must be positive, got %d", c.TimerPollSecs)
	}
	if c.HeartbeatMins < 0 {
		return fmt.Errorf("heartbeat_mins must be >= 0, got %d", c.HeartbeatMins)
	}
	if c.MaxSafeTemp <= 0 {
		return fmt.Errorf("max_safe_temp must be positive, got %v", c.MaxSafeTemp)
	}
	if c.SensorStaleSecs <= 0 {
		return fmt.Errorf("sensor_stale_secs must be positive, got %d", c.SensorStaleSecs)
	}
	return nil
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
