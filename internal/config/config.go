package config

import "time"

// Config is the complete service configuration.
type Config struct {
	Timing   TimingConfig   `yaml:"timing"`
	Radios   []RadioConfig  `yaml:"radios"`
	Geofence GeofenceConfig `yaml:"geofence"`
	Beacon   BeaconConfig   `yaml:"beacon"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RadioConfig describes one physical radio unit.
type RadioConfig struct {
	Unit   int          `yaml:"unit"`
	Name   string       `yaml:"name"`
	Driver string       `yaml:"driver"` // "sim" or "kiss"
	Band   BandConfig   `yaml:"band"`
	Power  uint8        `yaml:"power"`
	Serial SerialConfig `yaml:"serial"`
}

// BandConfig holds band limits in Hz. Min is inclusive, Max exclusive.
type BandConfig struct {
	Min     uint32 `yaml:"min"`
	Max     uint32 `yaml:"max"`
	Default uint32 `yaml:"default"`
	Step    uint32 `yaml:"step"`
}

// SerialConfig holds KISS TNC serial port settings.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"readTimeout"`
}

// GeofenceConfig holds APRS region boxes.
type GeofenceConfig struct {
	// Default is used before a position fix. Zero means scan.
	Default uint32         `yaml:"default"`
	Regions []RegionConfig `yaml:"regions"`
}

// RegionConfig is a lat/lon box mapped to a regional APRS frequency.
type RegionConfig struct {
	Name      string  `yaml:"name"`
	MinLat    float64 `yaml:"minLat"`
	MaxLat    float64 `yaml:"maxLat"`
	MinLon    float64 `yaml:"minLon"`
	MaxLon    float64 `yaml:"maxLon"`
	Frequency uint32  `yaml:"frequency"`
}

// BeaconConfig holds the periodic transmit producer settings.
type BeaconConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	Unit       int           `yaml:"unit"`
	Frequency  string        `yaml:"frequency"` // Hz, or "dynamic" / "receive"
	Step       uint32        `yaml:"step"`
	Channel    uint16        `yaml:"channel"`
	Power      uint8         `yaml:"power"`
	Modulation string        `yaml:"modulation"`
	Payload    string        `yaml:"payload"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Addr           string        `yaml:"addr"`
	JWTSecret      string        `yaml:"jwtSecret"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	CommandTimeout time.Duration `yaml:"commandTimeout"`
}

// LoggingConfig holds log and audit sink settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	TimeFormat string `yaml:"timeFormat"` // strftime pattern
	AuditDir   string `yaml:"auditDir"`
}

// DefaultConfig returns the built-in configuration: one simulated 2m radio.
func DefaultConfig() *Config {
	return &Config{
		Timing: *LoadTimingBaseline(),
		Radios: []RadioConfig{
			{
				Unit:   0,
				Name:   "si4464",
				Driver: "sim",
				Band: BandConfig{
					Min:     144000000,
					Max:     148000000,
					Default: 145175000,
					Step:    12500,
				},
				Power: 0x7F,
			},
		},
		Geofence: GeofenceConfig{
			Default: 0,
			Regions: DefaultRegions(),
		},
		Beacon: BeaconConfig{
			Enabled:    false,
			Interval:   5 * time.Minute,
			Unit:       0,
			Frequency:  "dynamic",
			Power:      0x7F,
			Modulation: "afsk",
		},
		API: APIConfig{
			Addr:           ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			CommandTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			TimeFormat: "%Y-%m-%d %H:%M:%S",
			AuditDir:   "logs",
		},
	}
}

// DefaultRegions returns the regional 2m APRS frequencies.
func DefaultRegions() []RegionConfig {
	return []RegionConfig{
		{Name: "north-america", MinLat: 15, MaxLat: 72, MinLon: -170, MaxLon: -50, Frequency: 144390000},
		{Name: "europe", MinLat: 34, MaxLat: 72, MinLon: -25, MaxLon: 45, Frequency: 144800000},
		{Name: "australia", MinLat: -45, MaxLat: -10, MinLon: 110, MaxLon: 155, Frequency: 145175000},
		{Name: "new-zealand", MinLat: -48, MaxLat: -33, MinLon: 165, MaxLon: 180, Frequency: 144575000},
		{Name: "japan", MinLat: 24, MaxLat: 46, MinLon: 122, MaxLon: 146, Frequency: 144660000},
		{Name: "china", MinLat: 18, MaxLat: 54, MinLon: 73, MaxLon: 122, Frequency: 144640000},
		{Name: "brazil", MinLat: -34, MaxLat: 6, MinLon: -74, MaxLon: -34, Frequency: 145570000},
		{Name: "argentina", MinLat: -56, MaxLat: -21, MinLon: -74, MaxLon: -53, Frequency: 144930000},
	}
}
