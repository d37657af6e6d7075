package kiss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/radio-control/tracker/internal/radio"
)

// MaxFrame bounds a decoded KISS frame.
const MaxFrame = 1024

// MaxPort is the highest TNC port; the port rides in the high nibble of
// the type byte.
const MaxPort = 15

// ErrClosed is returned once the TNC link is closed.
var ErrClosed = errors.New("kiss: tnc closed")

// Params are the KISS channel access parameters sent on Init.
type Params struct {
	TxDelay     time.Duration
	Persistence uint8
	SlotTime    time.Duration
	TxTail      time.Duration
}

// DefaultParams are typical VHF APRS settings.
var DefaultParams = Params{
	TxDelay:     300 * time.Millisecond,
	Persistence: 63,
	SlotTime:    100 * time.Millisecond,
	TxTail:      10 * time.Millisecond,
}

// TNC is one serial KISS link. It may carry several radio units, one per
// TNC port.
type TNC struct {
	port io.ReadWriteCloser
	name string

	wmu    sync.Mutex
	mu     sync.Mutex
	radios map[uint8]*Radio
	closed bool
	done   chan struct{}
}

// Open opens a serial KISS TNC.
func Open(name string, baud int, readTimeout time.Duration) (*TNC, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return NewTNC(name, port), nil
}

// NewTNC wraps an already open link and starts its read loop.
func NewTNC(name string, port io.ReadWriteCloser) *TNC {
	t := &TNC{
		port:   port,
		name:   name,
		radios: make(map[uint8]*Radio),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Radio returns the transceiver bound to TNC port p, creating it on first
// use.
func (t *TNC) Radio(unit radio.Unit, p int, params Params) (*Radio, error) {
	if p < 0 || p > MaxPort {
		return nil, fmt.Errorf("kiss %s: port %d outside 0-%d", t.name, p, MaxPort)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.radios[uint8(p)]; ok {
		return r, nil
	}
	r := &Radio{tnc: t, unit: unit, port: uint8(p), params: params, frames: make(chan []byte, 16)}
	t.radios[uint8(p)] = r
	return r, nil
}

// Close stops the read loop and closes the link.
func (t *TNC) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.port.Close()
	<-t.done
	return err
}

func (t *TNC) write(p uint8, cmd byte, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	_, err := t.port.Write(Encode(p, cmd, data))
	if err != nil {
		return fmt.Errorf("kiss write %s: %w", t.name, err)
	}
	return nil
}

func (t *TNC) readLoop() {
	defer close(t.done)

	dec := NewDecoder(MaxFrame)
	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			for _, f := range dec.Feed(buf[:n]) {
				t.route(f)
			}
		}
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			// A serial read timeout surfaces as io.EOF.
			if !closed && errors.Is(err, io.EOF) {
				continue
			}
			if !closed {
				log.Printf("[ERROR] kiss %s read: %v", t.name, err)
			}
			t.shutdownRadios()
			return
		}
	}
}

func (t *TNC) route(f Frame) {
	if f.Command != CmdData {
		return
	}
	t.mu.Lock()
	r, ok := t.radios[f.Port]
	t.mu.Unlock()
	if !ok {
		log.Printf("[DEBUG] kiss %s frame on unbound port %d", t.name, f.Port)
		return
	}
	r.deliver(f.Data)
}

func (t *TNC) shutdownRadios() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.radios {
		r.closeFrames()
	}
}

// Radio is one TNC port driven as a radio.Transceiver. The TNC modulates
// AFSK only.
type Radio struct {
	tnc    *TNC
	unit   radio.Unit
	port   uint8
	params Params

	mu        sync.Mutex
	receiving bool
	framesOff bool
	frames    chan []byte
	dropped   uint64
}

func (r *Radio) Init() error {
	p := r.params
	for _, c := range []struct {
		cmd byte
		val byte
	}{
		{CmdTxDelay, durationUnits(p.TxDelay)},
		{CmdPersistence, p.Persistence},
		{CmdSlotTime, durationUnits(p.SlotTime)},
		{CmdTxTail, durationUnits(p.TxTail)},
	} {
		if err := r.tnc.write(r.port, c.cmd, []byte{c.val}); err != nil {
			return fmt.Errorf("%s init: %w", r.unit, err)
		}
	}
	return nil
}

// durationUnits converts to the 10ms units KISS parameters use.
func durationUnits(d time.Duration) byte {
	u := d / (10 * time.Millisecond)
	if u > 255 {
		return 255
	}
	return byte(u)
}

// SetBand is a no-op: the TNC's radio is tuned externally.
func (r *Radio) SetBand(base radio.Frequency, step uint32) error {
	return nil
}

// SetPower is a no-op for the same reason.
func (r *Radio) SetPower(level uint8) error {
	return nil
}

func (r *Radio) EnableReceive(cfg radio.ReceiveConfig) error {
	r.setReceiving(true)
	return nil
}

func (r *Radio) DisableReceive() error {
	r.setReceiving(false)
	return nil
}

func (r *Radio) ResumeReceive(cfg radio.ReceiveConfig) bool {
	r.tnc.mu.Lock()
	closed := r.tnc.closed
	r.tnc.mu.Unlock()
	if closed {
		return false
	}
	r.setReceiving(true)
	return true
}

func (r *Radio) setReceiving(on bool) {
	r.mu.Lock()
	r.receiving = on
	r.mu.Unlock()
}

func (r *Radio) SendAFSK(req *radio.SendRequest) bool {
	if req.Worker == nil || req.Packet.Len() == 0 {
		return false
	}
	data := append([]byte(nil), req.Packet.Data...)
	req.Worker.Go(func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.setReceiving(false)
		if err := r.tnc.write(r.port, CmdData, data); err != nil {
			return err
		}
		log.Printf("[DEBUG] %s kiss seq %d: %d bytes to port %d", r.unit, req.Sequence, len(data), r.port)
		return nil
	})
	return true
}

// Send2FSK is not supported by a KISS TNC.
func (r *Radio) Send2FSK(req *radio.SendRequest) bool {
	return false
}

func (r *Radio) Shutdown() error {
	r.setReceiving(false)
	return nil
}

// Frames implements radio.FrameSource.
func (r *Radio) Frames() <-chan []byte {
	return r.frames
}

// Dropped returns the number of frames discarded because the receiver was
// off or the frame channel was full.
func (r *Radio) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Radio) deliver(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.receiving || r.framesOff {
		r.dropped++
		return
	}
	select {
	case r.frames <- frame:
	default:
		r.dropped++
	}
}

func (r *Radio) closeFrames() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.framesOff {
		r.framesOff = true
		close(r.frames)
	}
}
