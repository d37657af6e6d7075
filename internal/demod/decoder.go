package demod

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/radio-control/tracker/internal/radio"
)

// MinFrameLen is the shortest AX.25 frame worth delivering: two addresses
// and a control byte.
const MinFrameLen = 15

// ErrClosed is returned by Start and Stop once the decoder was closed.
var ErrClosed = errors.New("decoder closed")

// State is the decoder goroutine state.
type State int32

const (
	StateWait State = iota
	StateActive
	StateSuspend
	StateClose
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateWait:
		return "wait"
	case StateActive:
		return "active"
	case StateSuspend:
		return "suspend"
	case StateClose:
		return "close"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
)

type command struct {
	kind  cmdKind
	reply chan error
}

// Options tunes decoders built by a Factory.
type Options struct {
	// CheckFCS expects a trailing AX.25 FCS on every frame and strips it.
	CheckFCS bool
	// EventDepth bounds the event channel. Oldest events are dropped.
	EventDepth int
}

// Stats counts frames seen by a decoder.
type Stats struct {
	Delivered uint64
	Discarded uint64
	BadFCS    uint64
	Short     uint64
}

// Decoder is an AFSK decoder bound to one unit.
type Decoder struct {
	unit   radio.Unit
	opts   Options
	source <-chan []byte
	sink   radio.FrameSink

	cmds      chan command
	closeReq  chan struct{}
	closeOnce sync.Once
	events    chan radio.DecoderEvent
	done      chan struct{}
	state     atomic.Int32

	delivered atomic.Uint64
	discarded atomic.Uint64
	badFCS    atomic.Uint64
	short     atomic.Uint64
}

// New starts a decoder goroutine in the Wait state.
func New(unit radio.Unit, source radio.FrameSource, sink radio.FrameSink, opts Options) (*Decoder, error) {
	if source == nil {
		return nil, fmt.Errorf("%s: no frame source", unit)
	}
	if sink == nil {
		return nil, fmt.Errorf("%s: no frame sink", unit)
	}
	if opts.EventDepth <= 0 {
		opts.EventDepth = 4
	}

	d := &Decoder{
		unit:     unit,
		opts:     opts,
		source:   source.Frames(),
		sink:     sink,
		cmds:     make(chan command),
		closeReq: make(chan struct{}),
		events:   make(chan radio.DecoderEvent, opts.EventDepth),
		done:     make(chan struct{}),
	}
	go d.run()
	return d, nil
}

// Start moves the decoder to Active.
func (d *Decoder) Start() error {
	return d.request(cmdStart)
}

// Stop suspends decoding. The goroutine keeps draining the source.
func (d *Decoder) Stop() error {
	return d.request(cmdStop)
}

func (d *Decoder) request(kind cmdKind) error {
	c := command{kind: kind, reply: make(chan error, 1)}
	select {
	case d.cmds <- c:
		return <-c.reply
	case <-d.closeReq:
		return ErrClosed
	case <-d.done:
		return ErrClosed
	}
}

// Close asks the decoder to terminate. It does not wait; DecoderCloseAck
// on Events signals completion.
func (d *Decoder) Close() {
	d.closeOnce.Do(func() { close(d.closeReq) })
}

func (d *Decoder) closeRequested() bool {
	select {
	case <-d.closeReq:
		return true
	default:
		return false
	}
}

// Events returns the decoder state change channel. It is closed after
// DecoderCloseAck.
func (d *Decoder) Events() <-chan radio.DecoderEvent {
	return d.events
}

// Wait blocks until the decoder goroutine exits.
func (d *Decoder) Wait() {
	<-d.done
}

// State returns the current state.
func (d *Decoder) State() State {
	return State(d.state.Load())
}

// Stats returns frame counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Discarded: d.discarded.Load(),
		BadFCS:    d.badFCS.Load(),
		Short:     d.short.Load(),
	}
}

func (d *Decoder) run() {
	defer close(d.done)

	source := d.source
	for {
		select {
		case <-d.closeReq:
			d.setState(StateClose)
			d.emit(radio.DecoderCloseAck)
			d.setState(StateTerminated)
			close(d.events)
			log.Printf("[DEBUG] %s decoder terminated (%d frames)", d.unit, d.delivered.Load())
			return

		case c := <-d.cmds:
			c.reply <- d.apply(c.kind)

		case frame, ok := <-source:
			if !ok {
				// The driver went away; stay up until closed.
				source = nil
				log.Printf("[WARN] %s decoder frame source closed", d.unit)
				d.emit(radio.DecoderError)
				continue
			}
			d.decode(frame)
		}
	}
}

func (d *Decoder) apply(kind cmdKind) error {
	switch kind {
	case cmdStart:
		if d.State() != StateActive {
			d.setState(StateActive)
			d.emit(radio.DecoderStarted)
		}
	case cmdStop:
		if d.State() == StateActive {
			d.setState(StateSuspend)
			d.emit(radio.DecoderStopped)
		}
	}
	return nil
}

func (d *Decoder) decode(frame []byte) {
	if d.State() != StateActive {
		d.discarded.Add(1)
		return
	}
	if d.opts.CheckFCS {
		var ok bool
		frame, ok = checkFCS(frame)
		if !ok {
			d.badFCS.Add(1)
			return
		}
	}
	if len(frame) < MinFrameLen {
		d.short.Add(1)
		return
	}
	d.sink.Deliver(frame)
	d.delivered.Add(1)
}

func (d *Decoder) setState(s State) {
	d.state.Store(int32(s))
}

// emit posts ev, dropping the oldest pending event when the channel is full
// so a close acknowledgement is never lost.
func (d *Decoder) emit(ev radio.DecoderEvent) {
	for {
		select {
		case d.events <- ev:
			return
		default:
		}
		select {
		case <-d.events:
		default:
		}
	}
}

// Factory creates decoders over per-unit frame sources.
type Factory struct {
	mu      sync.Mutex
	sources map[radio.Unit]radio.FrameSource
	opts    Options
	active  map[radio.Unit]*Decoder
}

// NewFactory returns a factory with no sources registered.
func NewFactory(opts Options) *Factory {
	return &Factory{
		sources: make(map[radio.Unit]radio.FrameSource),
		active:  make(map[radio.Unit]*Decoder),
		opts:    opts,
	}
}

// Register binds unit to the source its decoders read from.
func (f *Factory) Register(unit radio.Unit, source radio.FrameSource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[unit] = source
}

// Create implements radio.DecoderFactory.
func (f *Factory) Create(unit radio.Unit, sink radio.FrameSink) (radio.Decoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	source, ok := f.sources[unit]
	if !ok {
		return nil, fmt.Errorf("%s: no frame source registered", unit)
	}
	if prev, ok := f.active[unit]; ok && prev.State() != StateTerminated {
		if !prev.closeRequested() {
			return nil, fmt.Errorf("%s: decoder already running", unit)
		}
		// Its owner gave up waiting for the close ack; it exits on its own.
		log.Printf("[WARN] %s replacing decoder that never acknowledged close", unit)
	}
	d, err := New(unit, source, sink, f.opts)
	if err != nil {
		return nil, err
	}
	f.active[unit] = d
	return d, nil
}

// Decoder returns the latest decoder created for unit, if any.
func (f *Factory) Decoder(unit radio.Unit) (*Decoder, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.active[unit]
	return d, ok
}
