package command

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/radio-control/tracker/internal/radio"
)

// MaxPayload bounds a single transmit payload in bytes.
const MaxPayload = 512

// Receive actions accepted by Receive.
const (
	ActionOpen  = "open"
	ActionStart = "start"
	ActionStop  = "stop"
	ActionClose = "close"
)

// ReceiveParams carries the optional arguments of a receive action.
type ReceiveParams struct {
	Modulation string `json:"modulation,omitempty"`
	Frequency  string `json:"frequency,omitempty"`
	Step       uint32 `json:"step,omitempty"`
	Channel    uint16 `json:"channel,omitempty"`
	Squelch    uint8  `json:"squelch,omitempty"`
}

// TransmitParams is one transmit intent.
type TransmitParams struct {
	Modulation string
	Frequency  string
	Step       uint32
	Channel    uint16
	Power      uint8
	Payload    []byte
}

// FrequencyQuery asks the resolver for an operating frequency.
type FrequencyQuery struct {
	Base    string
	Step    uint32
	Channel uint16
	Mode    string
}

// Orchestrator routes validated API intents to the radio manager.
type Orchestrator struct {
	radios      RadioPort
	auditLogger AuditLogger
	frames      radio.EventPublisher
	timeout     time.Duration
}

// NewOrchestrator creates a command orchestrator. timeout bounds each
// command; zero means the caller's context alone.
func NewOrchestrator(radios RadioPort, timeout time.Duration) *Orchestrator {
	return &Orchestrator{radios: radios, timeout: timeout}
}

// SetAuditLogger sets the audit sink for API commands.
func (o *Orchestrator) SetAuditLogger(logger AuditLogger) {
	o.auditLogger = logger
}

// SetFramePublisher sets where frames decoded by API-opened receive
// sessions are published.
func (o *Orchestrator) SetFramePublisher(p radio.EventPublisher) {
	o.frames = p
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// Receive performs one receive session action on radioID.
func (o *Orchestrator) Receive(ctx context.Context, radioID, action string, p ReceiveParams) error {
	unit, err := radio.ParseUnit(radioID)
	if err != nil {
		o.logAudit(ctx, "receive."+action, radioID, nil, err)
		return err
	}
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	params := map[string]interface{}{}
	switch strings.ToLower(action) {
	case ActionOpen:
		var mod radio.Modulation
		mod, err = radio.ParseModulation(p.Modulation)
		if err == nil && mod == radio.ModNone {
			err = fmt.Errorf("modulation required")
		}
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidParameter, err)
			break
		}
		params["modulation"] = mod.String()
		err = o.radios.OpenReceive(ctx, unit, mod, o.frameHandler(unit))
	case ActionStart:
		base := radio.FreqDynamic
		if p.Frequency != "" {
			if base, err = radio.ParseFrequency(p.Frequency); err != nil {
				break
			}
		}
		params["frequency"] = base.String()
		params["channel"] = p.Channel
		params["squelch"] = p.Squelch
		err = o.radios.StartReceive(ctx, unit, base, p.Step, p.Channel, p.Squelch)
	case ActionStop:
		err = o.radios.StopReceive(ctx, unit)
	case ActionClose:
		err = o.radios.CloseReceive(ctx, unit)
	default:
		err = fmt.Errorf("%w: unknown receive action %q", ErrInvalidParameter, action)
	}
	o.logAudit(ctx, "receive."+action, unit.String(), params, err)
	return err
}

func (o *Orchestrator) frameHandler(unit radio.Unit) radio.Handler {
	frames := o.frames
	return func(ev radio.Event) {
		if !ev.Flags.Has(radio.EventFrame) {
			return
		}
		log.Printf("[DEBUG] %s frame %d bytes", unit, len(ev.Frame))
		if frames == nil {
			return
		}
		// The session reuses the frame buffer once the handler returns.
		ev.Frame = append([]byte(nil), ev.Frame...)
		frames.PublishEvent(ev)
	}
}

// Transmit sends one burst and returns its sequence number.
func (o *Orchestrator) Transmit(ctx context.Context, radioID string, p TransmitParams) (uint32, error) {
	unit, err := radio.ParseUnit(radioID)
	if err != nil {
		o.logAudit(ctx, "transmit", radioID, nil, err)
		return 0, err
	}
	req, err := buildTransmit(p)
	if err != nil {
		o.logAudit(ctx, "transmit", unit.String(), nil, err)
		return 0, err
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	res, err := o.radios.Transmit(ctx, unit, req)
	o.logAudit(ctx, "transmit", unit.String(), map[string]interface{}{
		"modulation": req.Modulation.String(),
		"sequence":   res.Sequence,
		"frequency":  req.Frequency.String(),
		"bytes":      len(p.Payload),
	}, err)
	return res.Sequence, err
}

func buildTransmit(p TransmitParams) (radio.TransmitRequest, error) {
	mod, err := radio.ParseModulation(p.Modulation)
	if err != nil {
		return radio.TransmitRequest{}, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if mod == radio.ModNone {
		return radio.TransmitRequest{}, fmt.Errorf("%w: modulation required", ErrInvalidParameter)
	}
	if len(p.Payload) == 0 || len(p.Payload) > MaxPayload {
		return radio.TransmitRequest{}, fmt.Errorf("%w: payload must be 1..%d bytes", ErrInvalidParameter, MaxPayload)
	}
	freq := radio.FreqDynamic
	if p.Frequency != "" {
		if freq, err = radio.ParseFrequency(p.Frequency); err != nil {
			return radio.TransmitRequest{}, err
		}
	}
	return radio.TransmitRequest{
		Modulation: mod,
		Frequency:  freq,
		Step:       p.Step,
		Channel:    p.Channel,
		Power:      p.Power,
		Packet:     radio.NewPacket(append([]byte(nil), p.Payload...), nil),
	}, nil
}

// Frequency resolves the operating frequency without tuning the radio.
func (o *Orchestrator) Frequency(ctx context.Context, radioID string, q FrequencyQuery) (radio.Frequency, error) {
	unit, err := radio.ParseUnit(radioID)
	if err != nil {
		return radio.FreqInvalid, err
	}
	base := radio.FreqDynamic
	if q.Base != "" {
		if base, err = radio.ParseFrequency(q.Base); err != nil {
			return radio.FreqInvalid, err
		}
	}
	mode := radio.ModeTransmit
	switch strings.ToLower(q.Mode) {
	case "", "transmit", "tx":
	case "receive", "rx":
		mode = radio.ModeReceive
	default:
		return radio.FreqInvalid, fmt.Errorf("%w: unknown mode %q", ErrInvalidParameter, q.Mode)
	}
	return o.radios.ComputeOperatingFrequency(unit, base, q.Step, q.Channel, mode)
}

// GetState returns the snapshot of one unit.
func (o *Orchestrator) GetState(ctx context.Context, radioID string) (radio.UnitStatus, error) {
	unit, err := radio.ParseUnit(radioID)
	if err != nil {
		return radio.UnitStatus{}, err
	}
	return o.radios.Status(unit)
}

// List returns the snapshot of every unit.
func (o *Orchestrator) List() radio.UnitList {
	return o.radios.List()
}

func (o *Orchestrator) logAudit(ctx context.Context, action, radioID string, params map[string]interface{}, err error) {
	if o.auditLogger == nil {
		return
	}
	outcome := "SUCCESS"
	if err != nil {
		outcome = "FAILED"
	}
	o.auditLogger.LogControlAction(ctx, "api."+action, radioID, params, outcome, err)
}
