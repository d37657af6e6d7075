package radio

import (
	"sync"
	"sync/atomic"
	"time"
)

// Callback is invoked on the dispatcher goroutine with the completed task,
// just before the task returns to the pool. It must be brief and must not
// keep the task.
type Callback func(*Task)

// Task lifecycle states.
const (
	taskFree int32 = iota
	taskHeld
	taskQueued
	taskRunning
	taskTransmitting
)

// Task is a single queued radio command. Obtain one with GetTaskObject,
// fill in the exported fields and hand it to SubmitTask.
type Task struct {
	Command    Command
	Modulation Modulation

	BaseFrequency Frequency
	Step          uint32
	Channel       uint16
	Squelch       uint8
	Power         uint8

	// Packet is the send buffer for TxSend. The manager releases it once
	// the send is rejected or the transmit worker has finished.
	Packet *Packet

	// Handler receives receive session events for RxOpen.
	Handler Handler

	// Sequence is assigned by the dispatcher for TxSend.
	Sequence uint32

	// Result is the outcome of the executed command.
	Result error

	unit     *unitState
	callback Callback
	state    atomic.Int32
	worker   *TransmitWorker
	closed   chan struct{}
	queuedAt time.Time
}

// Unit returns the radio unit the task belongs to.
func (t *Task) Unit() Unit {
	return t.unit.unit
}

// reset clears the request so a pooled task carries nothing over.
func (t *Task) reset() {
	t.Command = CmdNone
	t.Modulation = ModNone
	t.BaseFrequency = FreqInvalid
	t.Step = 0
	t.Channel = 0
	t.Squelch = 0
	t.Power = 0
	t.Packet = nil
	t.Handler = nil
	t.Sequence = 0
	t.Result = nil
	t.callback = nil
	t.worker = nil
	t.closed = nil
	t.queuedAt = time.Time{}
}

// Packet is a releasable send buffer.
type Packet struct {
	Data []byte

	once    sync.Once
	release func()
}

// NewPacket wraps data; release, if non-nil, runs once when the manager is
// done with the buffer.
func NewPacket(data []byte, release func()) *Packet {
	return &Packet{Data: data, release: release}
}

// Len returns the payload size.
func (p *Packet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// Release returns the buffer to its owner. It is safe to call more than once.
func (p *Packet) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}
