// Package sim provides a simulated half-duplex transceiver.
//
// Several simulated radios can share an Ether: a burst sent by one is
// delivered to every other radio receiving on the same frequency.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/radio-control/tracker/internal/demod"
	"github.com/radio-control/tracker/internal/radio"
)

// ErrPoweredDown is returned by calls that need an initialized chip.
var ErrPoweredDown = errors.New("radio powered down")

// Options are the simulation knobs.
type Options struct {
	// BitRate sets simulated air time. Zero sends instantly.
	BitRate int
	// FrameDepth bounds the received frame channel.
	FrameDepth int
	// Ether connects this radio to others. May be nil.
	Ether *Ether
	// FCS appends the AX.25 frame check sequence to frames put on the
	// ether, as a raw HDLC receiver would see them.
	FCS bool
}

// Radio is a simulated transceiver implementing radio.Transceiver and
// radio.FrameSource.
type Radio struct {
	unit radio.Unit
	opts Options

	mu        sync.Mutex
	calls     []string
	powered   bool
	receiving bool
	base      radio.Frequency
	step      uint32
	power     uint8
	rx        radio.ReceiveConfig
	sent      [][]byte
	fail      Failures

	frames chan []byte
}

// Failures are injected driver faults.
type Failures struct {
	Init   error
	Enable error
	Burst  error
	Resume bool
	Refuse bool
}

// SetFailures replaces the injected faults.
func (r *Radio) SetFailures(f Failures) {
	r.mu.Lock()
	r.fail = f
	r.mu.Unlock()
}

// New returns a powered-down simulated radio for unit.
func New(unit radio.Unit, opts Options) *Radio {
	if opts.FrameDepth <= 0 {
		opts.FrameDepth = 16
	}
	r := &Radio{unit: unit, opts: opts, frames: make(chan []byte, opts.FrameDepth)}
	if opts.Ether != nil {
		opts.Ether.attach(r)
	}
	return r
}

func (r *Radio) record(call string) {
	r.calls = append(r.calls, call)
}

// Calls returns the names of the driver calls made so far.
func (r *Radio) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Sent returns the payloads of completed bursts.
func (r *Radio) Sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.sent))
	copy(out, r.sent)
	return out
}

// Powered reports whether the chip is initialized.
func (r *Radio) Powered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.powered
}

// Receiving reports whether the receiver is enabled.
func (r *Radio) Receiving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receiving
}

func (r *Radio) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("Init")
	if r.fail.Init != nil {
		return r.fail.Init
	}
	r.powered = true
	return nil
}

func (r *Radio) SetBand(base radio.Frequency, step uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("SetBand")
	r.powered = true
	r.base, r.step = base, step
	return nil
}

func (r *Radio) SetPower(level uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("SetPower")
	r.power = level
	return nil
}

func (r *Radio) EnableReceive(cfg radio.ReceiveConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("EnableReceive")
	if r.fail.Enable != nil {
		return r.fail.Enable
	}
	if !r.powered {
		return fmt.Errorf("%s enable receive: %w", r.unit, ErrPoweredDown)
	}
	r.rx = cfg
	r.receiving = true
	return nil
}

func (r *Radio) DisableReceive() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("DisableReceive")
	r.receiving = false
	return nil
}

func (r *Radio) ResumeReceive(cfg radio.ReceiveConfig) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("ResumeReceive")
	if r.fail.Resume {
		return false
	}
	r.powered = true
	r.rx = cfg
	r.receiving = true
	return true
}

func (r *Radio) SendAFSK(req *radio.SendRequest) bool {
	return r.send("SendAFSK", req)
}

func (r *Radio) Send2FSK(req *radio.SendRequest) bool {
	return r.send("Send2FSK", req)
}

func (r *Radio) send(call string, req *radio.SendRequest) bool {
	r.mu.Lock()
	r.record(call)
	refuse, burstErr := r.fail.Refuse, r.fail.Burst
	r.mu.Unlock()
	if refuse || req.Worker == nil {
		return false
	}

	data := append([]byte(nil), req.Packet.Data...)
	req.Worker.Go(func(ctx context.Context) error {
		return r.burst(ctx, req, data, burstErr)
	})
	return true
}

// burst programs the chip under the resource lock, then emits.
func (r *Radio) burst(ctx context.Context, req *radio.SendRequest, data []byte, burstErr error) error {
	if err := req.Worker.AcquireRadio(ctx); err != nil {
		return fmt.Errorf("%s acquire for transmit: %w", r.unit, err)
	}
	r.mu.Lock()
	r.receiving = false
	r.powered = true
	r.power = req.Power
	r.mu.Unlock()
	req.Worker.ReleaseRadio()

	if burstErr != nil {
		return burstErr
	}

	if r.opts.BitRate > 0 {
		airtime := time.Duration(len(data)*8) * time.Second / time.Duration(r.opts.BitRate)
		timer := time.NewTimer(airtime)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	r.sent = append(r.sent, data)
	r.mu.Unlock()
	log.Printf("[DEBUG] %s sim burst seq %d: %d bytes at %d Hz", r.unit, req.Sequence, len(data), req.Frequency)

	if r.opts.Ether != nil {
		frame := data
		if r.opts.FCS {
			frame = demod.AppendFCS(append([]byte(nil), data...))
		}
		r.opts.Ether.broadcast(r, req.Frequency, frame)
	}
	return nil
}

func (r *Radio) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("Shutdown")
	r.powered = false
	r.receiving = false
	return nil
}

// Frames implements radio.FrameSource.
func (r *Radio) Frames() <-chan []byte {
	return r.frames
}

// Inject delivers frame as if heard on f. It reports whether the receiver
// took it.
func (r *Radio) Inject(f radio.Frequency, frame []byte) bool {
	r.mu.Lock()
	ok := r.receiving && r.rx.Frequency == f
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case r.frames <- append([]byte(nil), frame...):
		return true
	default:
		return false
	}
}

// Ether is a shared simulated channel between radios.
type Ether struct {
	mu     sync.Mutex
	radios []*Radio
}

// NewEther returns an empty ether.
func NewEther() *Ether {
	return &Ether{}
}

func (e *Ether) attach(r *Radio) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.radios = append(e.radios, r)
}

func (e *Ether) broadcast(from *Radio, f radio.Frequency, frame []byte) {
	e.mu.Lock()
	radios := append([]*Radio(nil), e.radios...)
	e.mu.Unlock()
	for _, r := range radios {
		if r != from {
			r.Inject(f, frame)
		}
	}
}
