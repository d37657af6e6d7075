package radio

import "context"

// Transceiver is the low-level driver of one radio unit. All methods except
// the sends are called by the dispatcher with the resource lock held.
type Transceiver interface {
	// Init powers up and configures the chip. It must be idempotent.
	Init() error
	SetBand(base Frequency, step uint32) error
	SetPower(level uint8) error
	EnableReceive(cfg ReceiveConfig) error
	DisableReceive() error
	// ResumeReceive restores reception after a transmit burst.
	ResumeReceive(cfg ReceiveConfig) bool
	// SendAFSK and Send2FSK return true only after handing the burst to
	// req.Worker.Go. The lock is not held when they are called.
	SendAFSK(req *SendRequest) bool
	Send2FSK(req *SendRequest) bool
	Shutdown() error
}

// SendRequest describes one transmit burst.
type SendRequest struct {
	Unit       Unit
	Sequence   uint32
	Modulation Modulation
	Base       Frequency
	Step       uint32
	Channel    uint16
	Frequency  Frequency
	Power      uint8
	Squelch    uint8
	Packet     *Packet
	Worker     *TransmitWorker
}

// FrameSource is implemented by transceivers that deliver raw received frames.
type FrameSource interface {
	Frames() <-chan []byte
}

// DecoderEvent is a state change raised by a decoder.
type DecoderEvent int

const (
	DecoderStarted DecoderEvent = iota + 1
	DecoderStopped
	DecoderError
	// DecoderCloseAck is raised once the decoder reached its terminal state
	// after Close.
	DecoderCloseAck
)

func (e DecoderEvent) String() string {
	switch e {
	case DecoderStarted:
		return "started"
	case DecoderStopped:
		return "stopped"
	case DecoderError:
		return "error"
	case DecoderCloseAck:
		return "closeAck"
	}
	return "unknown"
}

// FrameSink accepts decoded frames. Deliver must not keep frame.
type FrameSink interface {
	Deliver(frame []byte)
}

// Decoder is a software demodulator bound to one unit.
type Decoder interface {
	Start() error
	Stop() error
	// Close asks the decoder to terminate; completion is signalled by
	// DecoderCloseAck on Events.
	Close()
	Events() <-chan DecoderEvent
	// Wait blocks until the decoder goroutine has exited.
	Wait()
}

// DecoderFactory creates decoders for a modulation that needs one.
type DecoderFactory interface {
	Create(unit Unit, sink FrameSink) (Decoder, error)
}

// RegionLookup resolves the regional operating frequency. It returns
// FreqScan when no region applies.
type RegionLookup interface {
	RegionFrequency() Frequency
}

// EventPublisher receives unit events for telemetry.
type EventPublisher interface {
	PublishEvent(ev Event)
}

// Publishers fans each event out to every publisher in order.
type Publishers []EventPublisher

func (p Publishers) PublishEvent(ev Event) {
	for _, pub := range p {
		if pub != nil {
			pub.PublishEvent(ev)
		}
	}
}

// AuditLogger receives one record per executed command.
type AuditLogger interface {
	LogControlAction(ctx context.Context, action, radioID string, params map[string]interface{}, outcome string, err error)
}

// ServiceAllocator creates the per-session receive services.
type ServiceAllocator interface {
	NewBufferPool(unit Unit) (*BufferPool, error)
	NewCallbackManager(unit Unit, handler Handler) (*CallbackManager, error)
}
