package main

import (
	"fmt"
	"io"
	"log"

	"github.com/radio-control/tracker/internal/config"
	"github.com/radio-control/tracker/internal/demod"
	"github.com/radio-control/tracker/internal/geofence"
	"github.com/radio-control/tracker/internal/lld/kiss"
	"github.com/radio-control/tracker/internal/lld/sim"
	"github.com/radio-control/tracker/internal/radio"
)

// simBitRate gives simulated bursts a realistic 1200 baud airtime.
const simBitRate = 1200

// stack is the radio core shared by every command.
type stack struct {
	mgr     *radio.Manager
	fence   *geofence.Geofence
	closers []io.Closer
}

// stackOptions select the collaborators wired into the manager.
type stackOptions struct {
	// Offline replaces every driver with a simulator.
	Offline bool
	Events  radio.EventPublisher
	Audit   radio.AuditLogger
}

// buildStack opens the configured transceivers and starts the manager.
func buildStack(cfg *config.Config, opts stackOptions) (*stack, error) {
	s := &stack{fence: geofence.New(cfg.Geofence)}
	decoders := demod.NewFactory(demod.Options{})
	ether := sim.NewEther()
	tncs := make(map[string]*kiss.TNC)

	units := make([]radio.UnitSpec, 0, len(cfg.Radios))
	for _, rc := range cfg.Radios {
		unit := radio.Unit(rc.Unit)
		var (
			xcvr   radio.Transceiver
			source radio.FrameSource
		)
		switch {
		case rc.Driver == "kiss" && !opts.Offline:
			tnc, ok := tncs[rc.Serial.Port]
			if !ok {
				var err error
				tnc, err = kiss.Open(rc.Serial.Port, rc.Serial.Baud, rc.Serial.ReadTimeout)
				if err != nil {
					s.close()
					return nil, fmt.Errorf("%s: %w", unit, err)
				}
				tncs[rc.Serial.Port] = tnc
				s.closers = append(s.closers, tnc)
				log.Printf("[INFO] KISS TNC open on %s at %d baud", rc.Serial.Port, rc.Serial.Baud)
			}
			r, err := tnc.Radio(unit, rc.Unit, kiss.DefaultParams)
			if err != nil {
				s.close()
				return nil, err
			}
			xcvr, source = r, r
		default:
			r := sim.New(unit, sim.Options{BitRate: simBitRate, Ether: ether})
			xcvr, source = r, r
		}
		decoders.Register(unit, source)
		units = append(units, radio.UnitSpec{
			Unit: unit,
			Name: rc.Name,
			Band: radio.Band{
				Min:     radio.Frequency(rc.Band.Min),
				Max:     radio.Frequency(rc.Band.Max),
				Default: radio.Frequency(rc.Band.Default),
				Step:    rc.Band.Step,
			},
			Radio:    xcvr,
			Decoders: decoders,
		})
	}

	mgr, err := radio.NewManager(radio.Options{
		Timing: &cfg.Timing,
		Units:  units,
		Region: s.fence,
		Events: opts.Events,
		Audit:  opts.Audit,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	s.mgr = mgr
	return s, nil
}

// close stops the manager first so no transmit is in flight when the serial
// links go away.
func (s *stack) close() {
	if s.mgr != nil {
		if err := s.mgr.Close(); err != nil {
			log.Printf("[WARN] radio manager close: %v", err)
		}
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			log.Printf("[WARN] close: %v", err)
		}
	}
}
