// Package lldtest provides a driver-agnostic conformance suite for radio
// transceivers. Every check runs the driver under a live radio.Manager so
// the driver is exercised through the same command path as production.
package lldtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/radio-control/tracker/internal/config"
	"github.com/radio-control/tracker/internal/demod"
	"github.com/radio-control/tracker/internal/radio"
)

// Instance is one freshly built driver.
type Instance struct {
	Radio  radio.Transceiver
	Source radio.FrameSource
	// Inject puts a frame on the air at f toward the driver. Nil skips the
	// receive checks.
	Inject func(f radio.Frequency, frame []byte)
	// Sent returns the payloads the driver has emitted, oldest first.
	Sent func() [][]byte
}

// Capabilities defines what the driver is expected to support.
type Capabilities struct {
	Band        radio.Band
	Modulations []radio.Modulation
	// CheckFCS is set when injected frames carry an AX.25 FCS.
	CheckFCS bool
}

// ConformanceResult is the outcome of one check.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]interface{}
}

// ConformanceReport collects every check for one driver.
type ConformanceReport struct {
	DriverName    string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

// RunConformance runs the complete suite against the driver built by
// newDriver and fails t if any check fails.
func RunConformance(t *testing.T, name string, newDriver func(t *testing.T) Instance, caps Capabilities) {
	startTime := time.Now()
	report := &ConformanceReport{DriverName: name, OverallPassed: true}

	runReceiveLifecycle(t, newDriver, caps, report)
	runTransmitTests(t, newDriver, caps, report)
	runSequenceTests(t, newDriver, caps, report)
	runFrameDelivery(t, newDriver, caps, report)
	runCloseTests(t, newDriver, caps, report)

	report.Duration = time.Since(startTime)
	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("driver conformance failed: %d/%d checks passed", report.PassedTests, report.TotalTests)
	}
}

// newManager runs inst as unit 0 with fast polling.
func newManager(t *testing.T, inst Instance, caps Capabilities) *radio.Manager {
	t.Helper()
	timing := config.LoadTimingBaseline()
	timing.IdlePoll = 10 * time.Millisecond
	timing.TxPoll = 5 * time.Millisecond
	timing.LockTimeout = time.Second

	decoders := demod.NewFactory(demod.Options{CheckFCS: caps.CheckFCS})
	if inst.Source != nil {
		decoders.Register(0, inst.Source)
	}
	mgr, err := radio.NewManager(radio.Options{
		Timing: timing,
		Units: []radio.UnitSpec{{
			Unit:     0,
			Name:     "conformance",
			Band:     caps.Band,
			Radio:    inst.Radio,
			Decoders: decoders,
		}},
	})
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func runReceiveLifecycle(t *testing.T, newDriver func(t *testing.T) Instance, caps Capabilities, report *ConformanceReport) {
	mgr := newManager(t, newDriver(t), caps)
	ctx := context.Background()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"Receive_Open", func() error { return mgr.OpenReceive(ctx, 0, radio.ModAFSK, func(radio.Event) {}) }},
		{"Receive_Start", func() error { return mgr.StartReceive(ctx, 0, caps.Band.Default, 0, 0, 0) }},
		{"Receive_Stop", func() error { return mgr.StopReceive(ctx, 0) }},
		{"Receive_Close", func() error { return mgr.CloseReceive(ctx, 0) }},
	}
	for _, st := range steps {
		result := ConformanceResult{TestName: st.name, Details: make(map[string]interface{})}
		start := time.Now()
		err := st.fn()
		result.Duration = time.Since(start)
		if err != nil {
			result.Error = fmt.Sprintf("%s failed: %v", st.name, err)
		} else {
			result.Passed = true
		}
		report.addResult(result)
	}
}

func runTransmitTests(t *testing.T, newDriver func(t *testing.T) Instance, caps Capabilities, report *ConformanceReport) {
	for _, mod := range []radio.Modulation{radio.ModAFSK, radio.Mod2FSK} {
		inst := newDriver(t)
		mgr := newManager(t, inst, caps)
		payload := []byte("N0CALL>APRS:>conformance " + mod.String())

		result := ConformanceResult{
			TestName: "Transmit_" + mod.String(),
			Details:  make(map[string]interface{}),
		}
		start := time.Now()
		res, err := mgr.Transmit(context.Background(), 0, radio.TransmitRequest{
			Modulation: mod,
			Frequency:  caps.Band.Default,
			Packet:     radio.NewPacket(payload, nil),
		})
		result.Duration = time.Since(start)

		switch {
		case !supports(caps, mod):
			if errors.Is(err, radio.ErrSendRejected) {
				result.Passed = true
				result.Details["expectedError"] = "SEND_REJECTED"
			} else {
				result.Error = fmt.Sprintf("unsupported %s should be rejected, got %v", mod, err)
			}
		case err != nil:
			result.Error = fmt.Sprintf("Transmit(%s) failed: %v", mod, err)
		case inst.Sent != nil && !eventually(func() bool { return sentContains(inst.Sent(), payload) }):
			result.Error = fmt.Sprintf("payload not emitted, sent %q", inst.Sent())
		default:
			result.Passed = true
			result.Details["sequence"] = res.Sequence
		}
		report.addResult(result)
	}
}

func runSequenceTests(t *testing.T, newDriver func(t *testing.T) Instance, caps Capabilities, report *ConformanceReport) {
	mgr := newManager(t, newDriver(t), caps)
	result := ConformanceResult{TestName: "Transmit_Sequence", Details: make(map[string]interface{})}
	start := time.Now()

	var seqs []uint32
	for i := 0; i < 3; i++ {
		res, err := mgr.Transmit(context.Background(), 0, radio.TransmitRequest{
			Modulation: radio.ModAFSK,
			Frequency:  caps.Band.Default,
			Packet:     radio.NewPacket([]byte{byte(i + 1)}, nil),
		})
		if err != nil {
			result.Error = fmt.Sprintf("transmit %d failed: %v", i, err)
			break
		}
		seqs = append(seqs, res.Sequence)
	}
	result.Duration = time.Since(start)

	if result.Error == "" {
		result.Passed = true
		for i := 1; i < len(seqs); i++ {
			if seqs[i] != seqs[i-1]+1 {
				result.Passed = false
				result.Error = fmt.Sprintf("sequences not consecutive: %v", seqs)
			}
		}
		result.Details["sequences"] = seqs
	}
	report.addResult(result)
}

func runFrameDelivery(t *testing.T, newDriver func(t *testing.T) Instance, caps Capabilities, report *ConformanceReport) {
	inst := newDriver(t)
	if inst.Inject == nil {
		return
	}
	mgr := newManager(t, inst, caps)
	ctx := context.Background()
	result := ConformanceResult{TestName: "Receive_Frame", Details: make(map[string]interface{})}

	frames := make(chan []byte, 4)
	err := mgr.OpenReceive(ctx, 0, radio.ModAFSK, func(ev radio.Event) {
		if ev.Flags.Has(radio.EventFrame) {
			frames <- append([]byte(nil), ev.Frame...)
		}
	})
	if err == nil {
		err = mgr.StartReceive(ctx, 0, caps.Band.Default, 0, 0, 0)
	}
	if err != nil {
		result.Error = fmt.Sprintf("receive setup failed: %v", err)
		report.addResult(result)
		return
	}

	want := []byte("N0CALL>APRS:!4523.40N/07541.90W>")
	frame := want
	if caps.CheckFCS {
		frame = demod.AppendFCS(append([]byte(nil), want...))
	}
	start := time.Now()
	inst.Inject(caps.Band.Default, frame)

	select {
	case got := <-frames:
		result.Duration = time.Since(start)
		if bytes.Equal(got, want) {
			result.Passed = true
			result.Details["bytes"] = len(got)
		} else {
			result.Error = fmt.Sprintf("frame = %q, want %q", got, want)
		}
	case <-time.After(time.Second):
		result.Error = "injected frame was not delivered"
	}
	report.addResult(result)
}

func runCloseTests(t *testing.T, newDriver func(t *testing.T) Instance, caps Capabilities, report *ConformanceReport) {
	mgr := newManager(t, newDriver(t), caps)
	result := ConformanceResult{TestName: "Close_RejectsWork", Details: make(map[string]interface{})}
	start := time.Now()

	err := mgr.Close()
	if err == nil {
		_, err = mgr.Transmit(context.Background(), 0, radio.TransmitRequest{
			Modulation: radio.ModAFSK,
			Frequency:  caps.Band.Default,
			Packet:     radio.NewPacket([]byte{0x01}, nil),
		})
		if err == nil {
			result.Error = "transmit after Close succeeded"
		} else {
			result.Passed = true
			result.Details["error"] = err.Error()
		}
	} else {
		result.Error = fmt.Sprintf("Close() failed: %v", err)
	}
	result.Duration = time.Since(start)
	report.addResult(result)
}

// Helper functions

func supports(caps Capabilities, mod radio.Modulation) bool {
	for _, m := range caps.Modulations {
		if m == mod {
			return true
		}
	}
	return false
}

func sentContains(sent [][]byte, payload []byte) bool {
	for _, s := range sent {
		if bytes.Equal(s, payload) {
			return true
		}
	}
	return false
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
	r.Results = append(r.Results, result)
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Logf("\n%s", strings.Repeat("=", 80))
	t.Logf("DRIVER CONFORMANCE REPORT")
	t.Logf("%s", strings.Repeat("=", 80))
	t.Logf("Driver: %s", report.DriverName)
	t.Logf("Passed: %d/%d", report.PassedTests, report.TotalTests)
	t.Logf("Overall: %s", map[bool]string{true: "PASS", false: "FAIL"}[report.OverallPassed])
	t.Logf("Duration: %v", report.Duration)
	t.Logf("%s", strings.Repeat("-", 80))
	t.Logf("%-30s %-8s %-12s %-s", "CHECK", "RESULT", "DURATION", "DETAILS")
	t.Logf("%s", strings.Repeat("-", 80))

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}
		details := result.Error
		if details == "" && len(result.Details) > 0 {
			var parts []string
			for k, v := range result.Details {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			details = strings.Join(parts, ", ")
		}
		t.Logf("%-30s %-8s %-12s %-s", result.TestName, status, result.Duration.String(), details)
	}
	t.Logf("%s", strings.Repeat("=", 80))
}
