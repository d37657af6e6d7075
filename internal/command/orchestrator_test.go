package command

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/radio-control/tracker/internal/radio"
)

// fakeRadios is a RadioPort with overridable behaviour.
type fakeRadios struct {
	OpenFunc     func(unit radio.Unit, mod radio.Modulation) error
	StartFunc    func(unit radio.Unit, base radio.Frequency, step uint32, channel uint16, squelch uint8) error
	TransmitFunc func(unit radio.Unit, req radio.TransmitRequest) (radio.TransmitResult, error)
	ComputeFunc  func(unit radio.Unit, base radio.Frequency, step uint32, channel uint16, mode radio.Mode) (radio.Frequency, error)

	mu      sync.Mutex
	calls   []string
	handler radio.Handler
}

func (f *fakeRadios) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRadios) OpenReceive(ctx context.Context, unit radio.Unit, mod radio.Modulation, handler radio.Handler) error {
	f.record("open")
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	if f.OpenFunc != nil {
		return f.OpenFunc(unit, mod)
	}
	return nil
}

func (f *fakeRadios) StartReceive(ctx context.Context, unit radio.Unit, base radio.Frequency, step uint32, channel uint16, squelch uint8) error {
	f.record("start")
	if f.StartFunc != nil {
		return f.StartFunc(unit, base, step, channel, squelch)
	}
	return nil
}

func (f *fakeRadios) StopReceive(ctx context.Context, unit radio.Unit) error {
	f.record("stop")
	return nil
}

func (f *fakeRadios) CloseReceive(ctx context.Context, unit radio.Unit) error {
	f.record("close")
	return nil
}

func (f *fakeRadios) Transmit(ctx context.Context, unit radio.Unit, req radio.TransmitRequest) (radio.TransmitResult, error) {
	f.record("transmit")
	if f.TransmitFunc != nil {
		return f.TransmitFunc(unit, req)
	}
	return radio.TransmitResult{Sequence: 1}, nil
}

func (f *fakeRadios) ComputeOperatingFrequency(unit radio.Unit, base radio.Frequency, step uint32, channel uint16, mode radio.Mode) (radio.Frequency, error) {
	if f.ComputeFunc != nil {
		return f.ComputeFunc(unit, base, step, channel, mode)
	}
	return base, nil
}

func (f *fakeRadios) Status(unit radio.Unit) (radio.UnitStatus, error) {
	if unit > 1 {
		return radio.UnitStatus{}, radio.ErrInvalidUnit
	}
	return radio.UnitStatus{Unit: unit, ID: unit.String()}, nil
}

func (f *fakeRadios) List() radio.UnitList {
	return radio.UnitList{Units: []radio.UnitStatus{{Unit: 0}, {Unit: 1}}}
}

type auditRecord struct {
	action, radioID, outcome string
	params                   map[string]interface{}
	err                      error
}

type fakeAudit struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *fakeAudit) LogControlAction(ctx context.Context, action, radioID string, params map[string]interface{}, outcome string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, auditRecord{action, radioID, outcome, params, err})
}

func newTestOrchestrator() (*Orchestrator, *fakeRadios, *fakeAudit) {
	radios := &fakeRadios{}
	audit := &fakeAudit{}
	o := NewOrchestrator(radios, 0)
	o.SetAuditLogger(audit)
	return o, radios, audit
}

func TestReceiveActions(t *testing.T) {
	o, radios, audit := newTestOrchestrator()
	ctx := context.Background()

	var gotMod radio.Modulation
	radios.OpenFunc = func(unit radio.Unit, mod radio.Modulation) error {
		gotMod = mod
		return nil
	}
	var gotBase radio.Frequency
	radios.StartFunc = func(unit radio.Unit, base radio.Frequency, step uint32, channel uint16, squelch uint8) error {
		gotBase = base
		return nil
	}

	steps := []struct {
		action string
		params ReceiveParams
	}{
		{ActionOpen, ReceiveParams{Modulation: "afsk"}},
		{ActionStart, ReceiveParams{Frequency: "144.390MHz", Squelch: 3}},
		{ActionStop, ReceiveParams{}},
		{ActionClose, ReceiveParams{}},
	}
	for _, s := range steps {
		if err := o.Receive(ctx, "radio-1", s.action, s.params); err != nil {
			t.Fatalf("Receive(%s) error = %v", s.action, err)
		}
	}

	if !reflect.DeepEqual(radios.calls, []string{"open", "start", "stop", "close"}) {
		t.Errorf("calls = %v", radios.calls)
	}
	if gotMod != radio.ModAFSK {
		t.Errorf("modulation = %v", gotMod)
	}
	if gotBase != 144390000 {
		t.Errorf("base = %v", gotBase)
	}
	if len(audit.records) != 4 || audit.records[1].action != "api.receive.start" || audit.records[1].radioID != "radio-1" {
		t.Errorf("audit = %+v", audit.records)
	}
}

func TestReceiveStartDefaultsToDynamic(t *testing.T) {
	o, radios, _ := newTestOrchestrator()
	var gotBase radio.Frequency
	radios.StartFunc = func(unit radio.Unit, base radio.Frequency, step uint32, channel uint16, squelch uint8) error {
		gotBase = base
		return nil
	}
	if err := o.Receive(context.Background(), "0", ActionStart, ReceiveParams{}); err != nil {
		t.Fatal(err)
	}
	if gotBase != radio.FreqDynamic {
		t.Errorf("base = %v, want dynamic", gotBase)
	}
}

func TestReceiveRejectsBadInput(t *testing.T) {
	o, radios, audit := newTestOrchestrator()
	ctx := context.Background()

	tests := []struct {
		name    string
		radioID string
		action  string
		params  ReceiveParams
		wantErr error
	}{
		{"bad unit", "radio-x", ActionOpen, ReceiveParams{Modulation: "afsk"}, radio.ErrInvalidUnit},
		{"no modulation", "0", ActionOpen, ReceiveParams{}, ErrInvalidParameter},
		{"bad modulation", "0", ActionOpen, ReceiveParams{Modulation: "fm"}, ErrInvalidParameter},
		{"bad frequency", "0", ActionStart, ReceiveParams{Frequency: "abc"}, radio.ErrInvalidFrequency},
		{"bad action", "0", "pause", ReceiveParams{}, ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.Receive(ctx, tt.radioID, tt.action, tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Receive() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if len(radios.calls) != 0 {
		t.Errorf("radio called on invalid input: %v", radios.calls)
	}
	for _, r := range audit.records {
		if r.outcome != "FAILED" {
			t.Errorf("audit outcome = %q for %s", r.outcome, r.action)
		}
	}
}

func TestReceivePropagatesManagerError(t *testing.T) {
	o, radios, audit := newTestOrchestrator()
	radios.OpenFunc = func(radio.Unit, radio.Modulation) error { return radio.ErrSessionOpen }

	err := o.Receive(context.Background(), "0", ActionOpen, ReceiveParams{Modulation: "2fsk"})
	if !errors.Is(err, radio.ErrSessionOpen) {
		t.Fatalf("error = %v", err)
	}
	if audit.records[0].err != err {
		t.Errorf("audit error = %v", audit.records[0].err)
	}
}

func TestTransmit(t *testing.T) {
	o, radios, audit := newTestOrchestrator()
	var got radio.TransmitRequest
	radios.TransmitFunc = func(unit radio.Unit, req radio.TransmitRequest) (radio.TransmitResult, error) {
		got = req
		return radio.TransmitResult{Sequence: 42}, nil
	}

	payload := []byte("N0CALL>APRS:>hi")
	seq, err := o.Transmit(context.Background(), "radio-0", TransmitParams{
		Modulation: "afsk",
		Payload:    payload,
		Power:      5,
	})
	if err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	if seq != 42 {
		t.Errorf("sequence = %d", seq)
	}
	if got.Frequency != radio.FreqDynamic || got.Modulation != radio.ModAFSK || got.Power != 5 {
		t.Errorf("request = %+v", got)
	}
	if !reflect.DeepEqual(got.Packet.Data, payload) {
		t.Errorf("packet = %q", got.Packet.Data)
	}
	if r := audit.records[0]; r.params["sequence"] != uint32(42) || r.outcome != "SUCCESS" {
		t.Errorf("audit = %+v", r)
	}
}

func TestTransmitValidation(t *testing.T) {
	o, radios, _ := newTestOrchestrator()
	big := make([]byte, MaxPayload+1)

	tests := []struct {
		name    string
		params  TransmitParams
		wantErr error
	}{
		{"empty payload", TransmitParams{Modulation: "afsk"}, ErrInvalidParameter},
		{"oversize", TransmitParams{Modulation: "afsk", Payload: big}, ErrInvalidParameter},
		{"no modulation", TransmitParams{Payload: []byte("x")}, ErrInvalidParameter},
		{"bad frequency", TransmitParams{Modulation: "afsk", Frequency: "-1", Payload: []byte("x")}, radio.ErrInvalidFrequency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := o.Transmit(context.Background(), "0", tt.params); !errors.Is(err, tt.wantErr) {
				t.Errorf("Transmit() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if len(radios.calls) != 0 {
		t.Errorf("radio called on invalid input: %v", radios.calls)
	}
}

func TestFrequency(t *testing.T) {
	o, radios, _ := newTestOrchestrator()
	var gotMode radio.Mode
	radios.ComputeFunc = func(unit radio.Unit, base radio.Frequency, step uint32, channel uint16, mode radio.Mode) (radio.Frequency, error) {
		gotMode = mode
		return base + radio.Frequency(step)*radio.Frequency(channel), nil
	}

	f, err := o.Frequency(context.Background(), "1", FrequencyQuery{Base: "144000000", Step: 25000, Channel: 2, Mode: "rx"})
	if err != nil || f != 144050000 || gotMode != radio.ModeReceive {
		t.Errorf("Frequency() = %v, %v (mode %v)", f, err, gotMode)
	}

	if _, err := o.Frequency(context.Background(), "1", FrequencyQuery{Mode: "sideways"}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("bad mode error = %v", err)
	}
}

func TestGetStateAndList(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	st, err := o.GetState(context.Background(), "radio-1")
	if err != nil || st.ID != "radio-1" {
		t.Errorf("GetState() = %+v, %v", st, err)
	}
	if _, err := o.GetState(context.Background(), "radio-7"); !errors.Is(err, radio.ErrInvalidUnit) {
		t.Errorf("GetState(radio-7) error = %v", err)
	}
	if n := len(o.List().Units); n != 2 {
		t.Errorf("List() = %d units", n)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []radio.Event
}

func (p *recordingPublisher) PublishEvent(ev radio.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func TestReceivedFramesArePublished(t *testing.T) {
	radios := &fakeRadios{}
	pub := &recordingPublisher{}
	o := NewOrchestrator(radios, 0)
	o.SetFramePublisher(pub)

	if err := o.Receive(context.Background(), "radio-0", ActionOpen, ReceiveParams{Modulation: "afsk"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if radios.handler == nil {
		t.Fatal("no handler passed to OpenReceive")
	}

	buf := []byte("N0CALL>APRS:>hi")
	radios.handler(radio.Event{Unit: 0, Flags: radio.EventFrame, Frame: buf})
	radios.handler(radio.Event{Unit: 0, Flags: radio.EventReceiveStarted})
	copy(buf, "XXXXXX")

	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1 frame", len(pub.events))
	}
	if got := string(pub.events[0].Frame); got != "N0CALL>APRS:>hi" {
		t.Errorf("published frame = %q, want a copy taken before the buffer was reused", got)
	}
}
