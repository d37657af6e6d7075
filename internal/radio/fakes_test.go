package radio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/radio-control/tracker/internal/config"
)

// fakeRadio is a Transceiver whose behaviour is set per test through the
// Func fields. Every call is recorded by name.
type fakeRadio struct {
	mu    sync.Mutex
	calls []string
	sends []SendRequest

	InitFunc          func() error
	EnableReceiveFunc func(ReceiveConfig) error
	ResumeReceiveFunc func(ReceiveConfig) bool
	// BurstFunc runs inside the transmit worker.
	BurstFunc func(ctx context.Context, req *SendRequest) error
	// RefuseSend makes the sends return false without starting a worker.
	RefuseSend bool
}

func (f *fakeRadio) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeRadio) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRadio) Count(name string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeRadio) Sends() []SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SendRequest, len(f.sends))
	copy(out, f.sends)
	return out
}

func (f *fakeRadio) Init() error {
	f.record("Init")
	if f.InitFunc != nil {
		return f.InitFunc()
	}
	return nil
}

func (f *fakeRadio) SetBand(base Frequency, step uint32) error {
	f.record("SetBand")
	return nil
}

func (f *fakeRadio) SetPower(level uint8) error {
	f.record("SetPower")
	return nil
}

func (f *fakeRadio) EnableReceive(cfg ReceiveConfig) error {
	f.record("EnableReceive")
	if f.EnableReceiveFunc != nil {
		return f.EnableReceiveFunc(cfg)
	}
	return nil
}

func (f *fakeRadio) DisableReceive() error {
	f.record("DisableReceive")
	return nil
}

func (f *fakeRadio) ResumeReceive(cfg ReceiveConfig) bool {
	f.record("ResumeReceive")
	if f.ResumeReceiveFunc != nil {
		return f.ResumeReceiveFunc(cfg)
	}
	return true
}

func (f *fakeRadio) SendAFSK(req *SendRequest) bool {
	return f.send("SendAFSK", req)
}

func (f *fakeRadio) Send2FSK(req *SendRequest) bool {
	return f.send("Send2FSK", req)
}

func (f *fakeRadio) send(name string, req *SendRequest) bool {
	f.record(name)
	f.mu.Lock()
	f.sends = append(f.sends, *req)
	f.mu.Unlock()
	if f.RefuseSend {
		return false
	}
	burst := f.BurstFunc
	req.Worker.Go(func(ctx context.Context) error {
		if burst != nil {
			return burst(ctx, req)
		}
		return nil
	})
	return true
}

func (f *fakeRadio) Shutdown() error {
	f.record("Shutdown")
	return nil
}

// fakeDecoder acknowledges Close unless Hang is set.
type fakeDecoder struct {
	mu      sync.Mutex
	events  chan DecoderEvent
	done    chan struct{}
	once    sync.Once
	started int
	stopped int
	hang    bool
	sink    FrameSink
}

func newFakeDecoder(sink FrameSink, hang bool) *fakeDecoder {
	return &fakeDecoder{
		events: make(chan DecoderEvent, 4),
		done:   make(chan struct{}),
		hang:   hang,
		sink:   sink,
	}
}

func (d *fakeDecoder) Start() error {
	d.mu.Lock()
	d.started++
	d.mu.Unlock()
	return nil
}

func (d *fakeDecoder) Stop() error {
	d.mu.Lock()
	d.stopped++
	d.mu.Unlock()
	return nil
}

func (d *fakeDecoder) Close() {
	if d.hang {
		return
	}
	d.once.Do(func() {
		d.events <- DecoderCloseAck
		close(d.done)
	})
}

func (d *fakeDecoder) Events() <-chan DecoderEvent { return d.events }

func (d *fakeDecoder) Wait() { <-d.done }

type fakeDecoders struct {
	mu         sync.Mutex
	CreateFunc func(unit Unit, sink FrameSink) (Decoder, error)
	created    []*fakeDecoder
	Hang       bool
}

func (f *fakeDecoders) Create(unit Unit, sink FrameSink) (Decoder, error) {
	if f.CreateFunc != nil {
		return f.CreateFunc(unit, sink)
	}
	d := newFakeDecoder(sink, f.Hang)
	f.mu.Lock()
	f.created = append(f.created, d)
	f.mu.Unlock()
	return d, nil
}

func (f *fakeDecoders) last() *fakeDecoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

// eventLog records published events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func newEventLog() *eventLog {
	return &eventLog{notify: make(chan Event, 256)}
}

func (l *eventLog) PublishEvent(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	select {
	case l.notify <- ev:
	default:
	}
}

func (l *eventLog) Flags() []EventFlag {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventFlag, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Flags)
	}
	return out
}

// waitFor blocks until an event carrying flag is published.
func (l *eventLog) waitFor(t *testing.T, flag EventFlag) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-l.notify:
			if ev.Flags.Has(flag) {
				return ev
			}
		case <-timeout:
			t.Fatalf("event %s not published; got %v", flag, l.Flags())
			return Event{}
		}
	}
}

// fixedRegion is a RegionLookup returning a constant.
type fixedRegion Frequency

func (r fixedRegion) RegionFrequency() Frequency { return Frequency(r) }

// auditRecorder is an AuditLogger keeping actions in order.
type auditRecorder struct {
	mu      sync.Mutex
	actions []string
	errs    []error
}

func (a *auditRecorder) LogControlAction(ctx context.Context, action, radioID string, params map[string]interface{}, outcome string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	a.errs = append(a.errs, err)
}

func (a *auditRecorder) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.actions))
	copy(out, a.actions)
	return out
}

var testBand = Band{Min: 144000000, Max: 148000000, Default: 145175000, Step: 12500}

func testTiming() *config.TimingConfig {
	cfg := config.LoadTimingBaseline()
	cfg.IdlePoll = 20 * time.Millisecond
	cfg.TxPoll = 5 * time.Millisecond
	cfg.Hysteresis = 3
	cfg.PoolSize = 4
	cfg.TaskTimeout = 200 * time.Millisecond
	cfg.LockTimeout = time.Second
	cfg.DecoderCloseTimeout = 100 * time.Millisecond
	cfg.TransmitTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 3 * time.Second
	return cfg
}

type testRig struct {
	mgr      *Manager
	radio    *fakeRadio
	decoders *fakeDecoders
	events   *eventLog
	audit    *auditRecorder
}

type rigOption func(*Options, *UnitSpec)

func withRegion(r RegionLookup) rigOption {
	return func(o *Options, _ *UnitSpec) { o.Region = r }
}

func withServices(s ServiceAllocator) rigOption {
	return func(_ *Options, u *UnitSpec) { u.Services = s }
}

func newTestRig(t *testing.T, opts ...rigOption) *testRig {
	t.Helper()
	rig := &testRig{
		radio:    &fakeRadio{},
		decoders: &fakeDecoders{},
		events:   newEventLog(),
		audit:    &auditRecorder{},
	}
	spec := UnitSpec{Unit: 0, Name: "si4464", Band: testBand, Radio: rig.radio, Decoders: rig.decoders}
	o := Options{Timing: testTiming(), Events: rig.events, Audit: rig.audit}
	for _, opt := range opts {
		opt(&o, &spec)
	}
	o.Units = []UnitSpec{spec}

	mgr, err := NewManager(o)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	rig.mgr = mgr
	t.Cleanup(func() {
		if err := mgr.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return rig
}

// gate blocks transmit bursts until opened.
type gate chan struct{}

func (g gate) burst(ctx context.Context, _ *SendRequest) error {
	select {
	case <-g:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errBoom = errors.New("boom")
