//
//
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// DefaultConfigPath is tried when no explicit path is given.
const DefaultConfigPath = "~/.tracker/config.yaml"

// Load merges DefaultConfig() + optional YAML file + env overrides (TRACKER_*).
//
// An empty path falls back to TRACKER_CONFIG and then DefaultConfigPath; a
// missing default file is not an error, a missing explicit file is.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = GetEnvVar("TRACKER_CONFIG", DefaultConfigPath)
		explicit = os.Getenv("TRACKER_CONFIG") != ""
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path %s: %w", path, err)
	}

	if _, err := os.Stat(expanded); err == nil {
		if err := loadFromFile(config, expanded); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", expanded, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", expanded, err)
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile overlays a YAML file onto config. Keys absent from the file
// keep their current values; lists such as radios are replaced wholesale.
func loadFromFile(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.UnmarshalStrict(data, config)
}

// applyEnvOverrides applies TRACKER_* environment variables to the config.
func applyEnvOverrides(config *Config) error {
	durations := map[string]*time.Duration{
		"TRACKER_TIMING_IDLE_POLL":             &config.Timing.IdlePoll,
		"TRACKER_TIMING_TX_POLL":               &config.Timing.TxPoll,
		"TRACKER_TIMING_TASK_TIMEOUT":          &config.Timing.TaskTimeout,
		"TRACKER_TIMING_LOCK_TIMEOUT":          &config.Timing.LockTimeout,
		"TRACKER_TIMING_DECODER_CLOSE_TIMEOUT": &config.Timing.DecoderCloseTimeout,
		"TRACKER_TIMING_TRANSMIT_TIMEOUT":      &config.Timing.TransmitTimeout,
		"TRACKER_TIMING_SHUTDOWN_TIMEOUT":      &config.Timing.ShutdownTimeout,
		"TRACKER_TIMING_HEARTBEAT_INTERVAL":    &config.Timing.HeartbeatInterval,
		"TRACKER_BEACON_INTERVAL":              &config.Beacon.Interval,
	}
	for key, dst := range durations {
		if val := os.Getenv(key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"TRACKER_TIMING_HYSTERESIS":        &config.Timing.Hysteresis,
		"TRACKER_TIMING_POOL_SIZE":         &config.Timing.PoolSize,
		"TRACKER_TIMING_EVENT_BUFFER_SIZE": &config.Timing.EventBufferSize,
	}
	for key, dst := range ints {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if val := os.Getenv("TRACKER_BEACON_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("TRACKER_BEACON_ENABLED: %w", err)
		}
		config.Beacon.Enabled = enabled
	}

	config.API.Addr = GetEnvVar("TRACKER_API_ADDR", config.API.Addr)
	config.API.JWTSecret = GetEnvVar("TRACKER_JWT_SECRET", config.API.JWTSecret)
	config.Logging.Level = strings.ToUpper(GetEnvVar("TRACKER_LOG_LEVEL", config.Logging.Level))
	config.Logging.File = GetEnvVar("TRACKER_LOG_FILE", config.Logging.File)
	config.Logging.AuditDir = GetEnvVar("TRACKER_AUDIT_DIR", config.Logging.AuditDir)

	return nil
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns the value of an environment variable as a duration with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Radio returns the configuration of the given unit.
func (c *Config) Radio(unit int) (RadioConfig, bool) {
	for _, r := range c.Radios {
		if r.Unit == unit {
			return r, true
		}
	}
	return RadioConfig{}, false
}
