//
//
package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/logutils"
)

// LogLevels are the level prefixes understood by the log filter.
var LogLevels = []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"}

// Validate checks every configuration section.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := ValidateTiming(&config.Timing); err != nil {
		return fmt.Errorf("timing validation failed: %w", err)
	}

	if err := validateRadios(config.Radios); err != nil {
		return fmt.Errorf("radio validation failed: %w", err)
	}

	if err := validateGeofence(&config.Geofence); err != nil {
		return fmt.Errorf("geofence validation failed: %w", err)
	}

	if err := validateBeacon(config); err != nil {
		return fmt.Errorf("beacon validation failed: %w", err)
	}

	if err := validateLogging(&config.Logging); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	return nil
}

// ValidateTiming validates dispatcher and telemetry timing.
func ValidateTiming(config *TimingConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if config.IdlePoll <= 0 {
		return fmt.Errorf("idle poll must be positive, got %v", config.IdlePoll)
	}
	if config.TxPoll <= 0 {
		return fmt.Errorf("tx poll must be positive, got %v", config.TxPoll)
	}
	if config.TxPoll > config.IdlePoll {
		return fmt.Errorf("tx poll %v must be <= idle poll %v", config.TxPoll, config.IdlePoll)
	}
	if config.Hysteresis < 0 {
		return fmt.Errorf("hysteresis must be non-negative, got %d", config.Hysteresis)
	}

	if config.PoolSize <= 0 {
		return fmt.Errorf("pool size must be positive, got %d", config.PoolSize)
	}
	if config.TaskTimeout <= 0 {
		return fmt.Errorf("task timeout must be positive, got %v", config.TaskTimeout)
	}
	if config.LockTimeout < 0 {
		return fmt.Errorf("lock timeout must be non-negative, got %v", config.LockTimeout)
	}

	if config.DecoderCloseTimeout <= 0 {
		return fmt.Errorf("decoder close timeout must be positive, got %v", config.DecoderCloseTimeout)
	}
	if config.TransmitTimeout <= 0 {
		return fmt.Errorf("transmit timeout must be positive, got %v", config.TransmitTimeout)
	}
	if config.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", config.ShutdownTimeout)
	}

	if config.RxBuffers <= 0 || config.FrameSize <= 0 || config.CallbackDepth <= 0 {
		return fmt.Errorf("receive buffers, frame size and callback depth must be positive")
	}

	if config.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", config.HeartbeatInterval)
	}
	if config.HeartbeatJitter < 0 || config.HeartbeatJitter > config.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", config.HeartbeatJitter, config.HeartbeatInterval)
	}
	if config.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", config.EventBufferSize)
	}

	return nil
}

// maxKISSPort is the highest port a KISS type byte can address.
const maxKISSPort = 15

// validateRadios validates the unit registry.
func validateRadios(radios []RadioConfig) error {
	if len(radios) == 0 {
		return fmt.Errorf("at least one radio unit is required")
	}

	seen := make(map[int]bool, len(radios))
	for _, r := range radios {
		if r.Unit < 0 {
			return fmt.Errorf("unit %d: identifier must be non-negative", r.Unit)
		}
		if seen[r.Unit] {
			return fmt.Errorf("unit %d: duplicate identifier", r.Unit)
		}
		seen[r.Unit] = true

		if r.Band.Min == 0 || r.Band.Max <= r.Band.Min {
			return fmt.Errorf("unit %d: band [%d, %d) is empty", r.Unit, r.Band.Min, r.Band.Max)
		}
		if r.Band.Default < r.Band.Min || r.Band.Default >= r.Band.Max {
			return fmt.Errorf("unit %d: band default %d outside band", r.Unit, r.Band.Default)
		}
		if r.Band.Step == 0 {
			return fmt.Errorf("unit %d: band step must be positive", r.Unit)
		}

		switch r.Driver {
		case "sim":
		case "kiss":
			if r.Unit > maxKISSPort {
				return fmt.Errorf("unit %d: kiss units map to TNC ports 0-%d", r.Unit, maxKISSPort)
			}
			if r.Serial.Port == "" {
				return fmt.Errorf("unit %d: kiss driver needs a serial port", r.Unit)
			}
			if r.Serial.Baud <= 0 {
				return fmt.Errorf("unit %d: serial baud must be positive", r.Unit)
			}
		default:
			return fmt.Errorf("unit %d: unknown driver %q", r.Unit, r.Driver)
		}
	}

	return nil
}

// validateGeofence validates region boxes.
func validateGeofence(config *GeofenceConfig) error {
	for _, region := range config.Regions {
		if region.MinLat >= region.MaxLat || region.MinLon >= region.MaxLon {
			return fmt.Errorf("region %s: empty box", region.Name)
		}
		if region.MinLat < -90 || region.MaxLat > 90 || region.MinLon < -180 || region.MaxLon > 180 {
			return fmt.Errorf("region %s: box outside lat/lon range", region.Name)
		}
		if region.Frequency == 0 {
			return fmt.Errorf("region %s: frequency required", region.Name)
		}
	}
	return nil
}

// validateBeacon validates the beacon producer.
func validateBeacon(config *Config) error {
	b := &config.Beacon
	if !b.Enabled {
		return nil
	}
	if b.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", b.Interval)
	}
	if _, ok := config.Radio(b.Unit); !ok {
		return fmt.Errorf("unit %d is not configured", b.Unit)
	}
	if b.Frequency == "" {
		return fmt.Errorf("frequency required")
	}
	switch strings.ToLower(b.Modulation) {
	case "afsk", "2fsk":
	default:
		return fmt.Errorf("unsupported modulation %q", b.Modulation)
	}
	return nil
}

// validateLogging validates the log level and sinks.
func validateLogging(config *LoggingConfig) error {
	level := logutils.LogLevel(strings.ToUpper(config.Level))
	for _, l := range LogLevels {
		if l == level {
			if config.File != "" && config.MaxSizeMB <= 0 {
				return fmt.Errorf("max size must be positive when logging to a file")
			}
			return nil
		}
	}
	return fmt.Errorf("unknown log level %q", config.Level)
}
