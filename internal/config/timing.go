package config

import "time"

// TimingConfig holds dispatcher and telemetry timing.
type TimingConfig struct {
	// Dispatcher poll cadence
	IdlePoll   time.Duration `yaml:"idlePoll"`
	TxPoll     time.Duration `yaml:"txPoll"`
	Hysteresis int           `yaml:"hysteresis"`

	// Task object pool
	PoolSize    int           `yaml:"poolSize"`
	TaskTimeout time.Duration `yaml:"taskTimeout"`

	// Resource lock; zero waits until the manager is closed
	LockTimeout time.Duration `yaml:"lockTimeout"`

	DecoderCloseTimeout time.Duration `yaml:"decoderCloseTimeout"`
	TransmitTimeout     time.Duration `yaml:"transmitTimeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdownTimeout"`

	// Receive session services
	RxBuffers     int `yaml:"rxBuffers"`
	FrameSize     int `yaml:"frameSize"`
	CallbackDepth int `yaml:"callbackDepth"`

	// Telemetry stream
	HeartbeatInterval    time.Duration `yaml:"heartbeatInterval"`
	HeartbeatJitter      time.Duration `yaml:"heartbeatJitter"`
	EventBufferSize      int           `yaml:"eventBufferSize"`
	EventBufferRetention time.Duration `yaml:"eventBufferRetention"`
}

// LoadTimingBaseline returns the baseline timing values.
func LoadTimingBaseline() *TimingConfig {
	return &TimingConfig{
		IdlePoll:   100 * time.Millisecond,
		TxPoll:     100 * time.Millisecond,
		Hysteresis: 10,

		PoolSize:    16,
		TaskTimeout: time.Second,

		LockTimeout: 0,

		DecoderCloseTimeout: 2 * time.Second,
		TransmitTimeout:     10 * time.Second,
		ShutdownTimeout:     10 * time.Second,

		RxBuffers:     8,
		FrameSize:     330, // AX.25 max info field plus header and FCS
		CallbackDepth: 16,

		HeartbeatInterval:    15 * time.Second,
		HeartbeatJitter:      2 * time.Second,
		EventBufferSize:      50,
		EventBufferRetention: time.Hour,
	}
}
