package radio

import (
	"fmt"
	"strconv"
	"strings"
)

// Unit identifies one physical transceiver.
type Unit int

// String returns the radio identifier used by telemetry and audit.
func (u Unit) String() string {
	return "radio-" + strconv.Itoa(int(u))
}

// ParseUnit accepts "3" or "radio-3".
func ParseUnit(s string) (Unit, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "radio-"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, s)
	}
	return Unit(n), nil
}

// Command selects the state transition a Task performs.
type Command int

const (
	CmdNone Command = iota
	RxOpen
	RxStart
	RxStop
	RxClose
	TxSend
	TxThreadDone
)

func (c Command) String() string {
	switch c {
	case CmdNone:
		return "none"
	case RxOpen:
		return "rxOpen"
	case RxStart:
		return "rxStart"
	case RxStop:
		return "rxStop"
	case RxClose:
		return "rxClose"
	case TxSend:
		return "txSend"
	case TxThreadDone:
		return "txThreadDone"
	}
	return "command(" + strconv.Itoa(int(c)) + ")"
}

// Modulation is the closed set of modulations the manager can drive.
type Modulation int

const (
	ModNone Modulation = iota
	ModAFSK
	Mod2FSK
	numModulations
)

func (m Modulation) String() string {
	switch m {
	case ModNone:
		return "none"
	case ModAFSK:
		return "afsk"
	case Mod2FSK:
		return "2fsk"
	}
	return "modulation(" + strconv.Itoa(int(m)) + ")"
}

// ParseModulation accepts the names returned by Modulation.String.
func ParseModulation(s string) (Modulation, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return ModNone, nil
	case "afsk":
		return ModAFSK, nil
	case "2fsk":
		return Mod2FSK, nil
	}
	return ModNone, fmt.Errorf("unknown modulation %q", s)
}

// Mode tells the frequency resolver which direction is being tuned.
type Mode int

const (
	ModeReceive Mode = iota
	ModeTransmit
)

func (m Mode) String() string {
	if m == ModeReceive {
		return "receive"
	}
	return "transmit"
}

// ReceiveConfig is the last applied receive tuning of a unit. Base, Step and
// Channel are stored after sentinel resolution.
type ReceiveConfig struct {
	Modulation Modulation `json:"modulation"`
	Base       Frequency  `json:"base"`
	Step       uint32     `json:"step"`
	Channel    uint16     `json:"channel"`
	Squelch    uint8      `json:"squelch"`
	Frequency  Frequency  `json:"frequency"`
}

// EventFlag identifies a session or unit event. Flags may be or-ed.
type EventFlag uint32

const (
	EventBufferManagerFailed EventFlag = 1 << iota
	EventCallbackManagerFailed
	EventDecoderStartFailed
	EventReceiveOpened
	EventReceiveStarted
	EventReceiveStopped
	EventReceiveClosed
	EventFrame
	EventTransmitQueued
	EventTransmitDone
	EventTransmitRejected
	EventTransmitTimeout
	EventTransmitStartFailed
	EventReceiveResumeFailed
	EventRadioShutdown
	EventDecoderCloseTimeout
)

var eventNames = []string{
	"bufferManagerFailed",
	"callbackManagerFailed",
	"decoderStartFailed",
	"rxOpen",
	"rxStart",
	"rxStop",
	"rxClose",
	"frame",
	"txStart",
	"txDone",
	"txRejected",
	"txTimeout",
	"txStartFailed",
	"rxResumeFailed",
	"shutdown",
	"decoderCloseTimeout",
}

// String joins the names of the set flags with "|".
func (f EventFlag) String() string {
	var names []string
	for i, name := range eventNames {
		if f&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Has reports whether all flags in mask are set.
func (f EventFlag) Has(mask EventFlag) bool {
	return f&mask == mask
}

// Event is delivered to session handlers and the unit event publisher.
type Event struct {
	Unit     Unit
	Flags    EventFlag
	Sequence uint32
	Frame    []byte
	Err      error
}

// Handler receives session events. It runs on the session's callback
// goroutine and must not block.
type Handler func(Event)
