package beacon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/radio-control/tracker/internal/config"
	"github.com/radio-control/tracker/internal/radio"
)

// MinInterval is the minimum spacing between two beacons.
const MinInterval = 5 * time.Second

// ErrTooSoon is returned by Fire inside the spacing window.
var ErrTooSoon = errors.New("beacon spacing not elapsed")

// Transmitter queues a burst without waiting for it.
type Transmitter interface {
	TransmitAsync(ctx context.Context, unit radio.Unit, req radio.TransmitRequest, done func(radio.TransmitResult)) error
}

// Stats counts beacon outcomes.
type Stats struct {
	Submitted uint64    `json:"submitted"`
	Sent      uint64    `json:"sent"`
	Failed    uint64    `json:"failed"`
	Skipped   uint64    `json:"skipped"`
	Last      time.Time `json:"last,omitempty"`
}

// Beacon transmits a fixed payload on a fixed schedule.
type Beacon struct {
	tx       Transmitter
	unit     radio.Unit
	interval time.Duration
	mod      radio.Modulation
	freq     radio.Frequency
	step     uint32
	channel  uint16
	power    uint8
	payload  *strftime.Strftime
	now      func() time.Time

	mu   sync.Mutex
	last time.Time

	submitted atomic.Uint64
	sent      atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
}

// New builds a beacon from cfg. The payload is a strftime pattern expanded
// in UTC at each transmission, so "%d%H%Mz" yields an APRS timestamp.
func New(tx Transmitter, cfg config.BeaconConfig) (*Beacon, error) {
	if tx == nil {
		return nil, errors.New("transmitter is required")
	}
	mod, err := radio.ParseModulation(cfg.Modulation)
	if err != nil {
		return nil, err
	}
	freq, err := radio.ParseFrequency(cfg.Frequency)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Payload) == "" {
		return nil, errors.New("beacon payload is empty")
	}
	payload, err := strftime.New(cfg.Payload)
	if err != nil {
		return nil, fmt.Errorf("beacon payload: %w", err)
	}
	interval := cfg.Interval
	if interval < MinInterval {
		log.Printf("[WARN] beacon interval %v raised to %v", interval, MinInterval)
		interval = MinInterval
	}
	return &Beacon{
		tx:       tx,
		unit:     radio.Unit(cfg.Unit),
		interval: interval,
		mod:      mod,
		freq:     freq,
		step:     cfg.Step,
		channel:  cfg.Channel,
		power:    cfg.Power,
		payload:  payload,
		now:      time.Now,
	}, nil
}

// Interval returns the effective beacon period.
func (b *Beacon) Interval() time.Duration {
	return b.interval
}

// Run fires once immediately and then every interval until ctx is done.
func (b *Beacon) Run(ctx context.Context) error {
	log.Printf("[INFO] beacon on %s every %v at %s", b.unit, b.interval, b.freq)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		if err := b.Fire(ctx); err != nil && !errors.Is(err, ErrTooSoon) {
			log.Printf("[WARN] beacon on %s: %v", b.unit, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Fire submits one beacon. The outcome of the burst is counted when the
// dispatcher reports it.
func (b *Beacon) Fire(ctx context.Context) error {
	b.mu.Lock()
	now := b.now()
	if !b.last.IsZero() && now.Sub(b.last) < MinInterval {
		b.mu.Unlock()
		b.skipped.Add(1)
		return ErrTooSoon
	}
	b.last = now
	b.mu.Unlock()

	data := []byte(b.payload.FormatString(now.UTC()))
	req := radio.TransmitRequest{
		Modulation: b.mod,
		Frequency:  b.freq,
		Step:       b.step,
		Channel:    b.channel,
		Power:      b.power,
		Packet:     radio.NewPacket(data, nil),
	}
	if err := b.tx.TransmitAsync(ctx, b.unit, req, b.done); err != nil {
		b.failed.Add(1)
		return fmt.Errorf("submit: %w", err)
	}
	b.submitted.Add(1)
	return nil
}

func (b *Beacon) done(res radio.TransmitResult) {
	if res.Err != nil {
		b.failed.Add(1)
		log.Printf("[WARN] beacon seq %d on %s failed: %v", res.Sequence, b.unit, res.Err)
		return
	}
	b.sent.Add(1)
	log.Printf("[DEBUG] beacon seq %d on %s sent", res.Sequence, b.unit)
}

// Stats returns the beacon counters.
func (b *Beacon) Stats() Stats {
	b.mu.Lock()
	last := b.last
	b.mu.Unlock()
	return Stats{
		Submitted: b.submitted.Load(),
		Sent:      b.sent.Load(),
		Failed:    b.failed.Load(),
		Skipped:   b.skipped.Load(),
		Last:      last,
	}
}
