package radio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// capability is what the manager can do with one modulation.
type capability struct {
	// send is nil when the modulation cannot transmit.
	send func(Transceiver, *SendRequest) bool
	// decoded sessions need a software decoder.
	decoded bool
}

var capabilities = [numModulations]capability{
	ModNone: {},
	ModAFSK: {send: Transceiver.SendAFSK, decoded: true},
	Mod2FSK: {send: Transceiver.Send2FSK},
}

func capabilityOf(m Modulation) (capability, bool) {
	if m < 0 || m >= numModulations {
		return capability{}, false
	}
	return capabilities[m], true
}

// TransmitWorker runs one RF burst off the dispatcher. The driver starts it
// with Go from inside SendAFSK/Send2FSK; when the burst function returns,
// completion is scheduled back onto the unit's dispatcher.
type TransmitWorker struct {
	unit    *unitState
	task    *Task
	started atomic.Bool
	done    chan struct{}
	err     error
	begin   time.Time
	end     time.Time
}

func newTransmitWorker(u *unitState, t *Task) *TransmitWorker {
	return &TransmitWorker{unit: u, task: t, done: make(chan struct{})}
}

// Go runs burst on a new goroutine with a context bounded by the transmit
// timeout. It must be called at most once.
func (w *TransmitWorker) Go(burst func(ctx context.Context) error) {
	if !w.started.CompareAndSwap(false, true) {
		panic("radio: transmit worker started twice")
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.unit.timing.TransmitTimeout)
		w.begin = time.Now()
		err := burst(ctx)
		cancel()
		w.end = time.Now()
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTransmitTimeout) {
			err = fmt.Errorf("%w: %v", ErrTransmitTimeout, err)
		}
		w.err = err
		close(w.done)

		if err := w.unit.scheduleCompletion(w.task, w); err != nil {
			log.Printf("[ERROR] %s transmit seq %d completion lost: %v", w.unit.unit, w.task.Sequence, err)
		}
	}()
}

// AcquireRadio takes the unit's resource lock for hardware programming
// inside the burst. It must be released before the RF emission starts.
func (w *TransmitWorker) AcquireRadio(ctx context.Context) error {
	return w.unit.lock.acquire(ctx, w.unit.timing.LockTimeout)
}

// ReleaseRadio releases a lock taken with AcquireRadio.
func (w *TransmitWorker) ReleaseRadio() {
	w.unit.lock.release()
}

// join waits for the burst goroutine's exit status.
func (w *TransmitWorker) join(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return w.err
	case <-timer.C:
		return fmt.Errorf("%w: worker did not exit within %v", ErrTransmitTimeout, timeout)
	}
}

// Duration returns how long the burst ran.
func (w *TransmitWorker) Duration() time.Duration {
	select {
	case <-w.done:
		return w.end.Sub(w.begin)
	default:
		return 0
	}
}

// classifyTransmit maps a worker exit status to its event flag and a
// normalized error. Anything but a timeout counts as a failed start.
func classifyTransmit(status error) (EventFlag, error) {
	switch {
	case status == nil:
		return EventTransmitDone, nil
	case errors.Is(status, ErrTransmitTimeout):
		return EventTransmitTimeout, status
	case errors.Is(status, ErrTransmitStart):
		return EventTransmitStartFailed, status
	default:
		return EventTransmitStartFailed, fmt.Errorf("%w: %v", ErrTransmitStart, status)
	}
}

// txSend hands the task to a transmit worker. It returns true when the
// worker took ownership of the task.
func (u *unitState) txSend(task *Task) bool {
	task.Sequence = u.txSeq.Add(1)
	u.pauseReception()

	err := u.startTransmit(task)
	if err == nil {
		u.txCount.Add(1)
		u.interval = u.timing.TxPoll
		u.hysteresis = u.timing.Hysteresis
		log.Printf("[DEBUG] %s transmit seq %d queued, %d in flight", u.unit, task.Sequence, u.txCount.Load())
		u.publish(Event{Unit: u.unit, Flags: EventTransmitQueued, Sequence: task.Sequence})
		return true
	}

	task.Packet.Release()
	if u.txCount.Load() == 0 {
		u.clearPause()
	}
	task.Result = err
	log.Printf("[WARN] %s transmit seq %d rejected: %v", u.unit, task.Sequence, err)
	u.publish(Event{Unit: u.unit, Flags: EventTransmitRejected, Sequence: task.Sequence, Err: err})
	return false
}

func (u *unitState) startTransmit(task *Task) error {
	c, ok := capabilityOf(task.Modulation)
	if !ok || c.send == nil {
		return fmt.Errorf("%w: %s cannot transmit", ErrSendRejected, task.Modulation)
	}

	t, err := u.resolve(task.BaseFrequency, task.Step, task.Channel, ModeTransmit)
	if err != nil {
		return err
	}

	w := newTransmitWorker(u, task)
	task.worker = w
	task.state.Store(taskTransmitting)

	accepted := c.send(u.radio, &SendRequest{
		Unit:       u.unit,
		Sequence:   task.Sequence,
		Modulation: task.Modulation,
		Base:       t.base,
		Step:       t.step,
		Channel:    t.channel,
		Frequency:  t.op,
		Power:      task.Power,
		Squelch:    task.Squelch,
		Packet:     task.Packet,
		Worker:     w,
	})

	// Once the worker runs it owns the task, whatever the driver reported.
	if w.started.Load() {
		if !accepted {
			log.Printf("[WARN] %s driver started seq %d but reported rejection", u.unit, task.Sequence)
		}
		return nil
	}

	task.worker = nil
	task.state.Store(taskRunning)
	if accepted {
		return fmt.Errorf("%w: driver accepted seq %d without starting a worker", ErrTransmitStart, task.Sequence)
	}
	return fmt.Errorf("%w: driver refused %s send at %d Hz", ErrSendRejected, task.Modulation, t.op)
}

// txThreadDone reclaims a finished transmit worker.
func (u *unitState) txThreadDone(task *Task) {
	status := task.worker.join(u.timing.TransmitTimeout)
	flag, err := classifyTransmit(status)
	task.Result = err
	task.Packet.Release()

	switch flag {
	case EventTransmitTimeout:
		log.Printf("[ERROR] %s transmit timeout seq %d: %v", u.unit, task.Sequence, err)
	case EventTransmitStartFailed:
		log.Printf("[ERROR] %s transmit failed to start seq %d: %v", u.unit, task.Sequence, err)
	}

	remaining := u.decrementTx()
	u.publish(Event{Unit: u.unit, Flags: flag, Sequence: task.Sequence, Err: err})

	if remaining > 0 {
		return
	}
	if u.paused.Load() {
		u.resumeReception()
	} else if u.session == nil {
		if err := u.radio.Shutdown(); err != nil {
			log.Printf("[WARN] %s shutdown after transmit: %v", u.unit, err)
		}
		u.publish(Event{Unit: u.unit, Flags: EventRadioShutdown})
	}
}

// decrementTx lowers txCount without letting it go negative.
func (u *unitState) decrementTx() int32 {
	for {
		n := u.txCount.Load()
		if n <= 0 {
			log.Printf("[ERROR] %s transmit completion with nothing in flight", u.unit)
			return 0
		}
		if u.txCount.CompareAndSwap(n, n-1) {
			return n - 1
		}
	}
}

// pauseReception marks an active receive as paused for the burst.
func (u *unitState) pauseReception() {
	if u.rxConfig.Load() == nil {
		return
	}
	u.paused.Store(true)
	if u.session != nil {
		u.session.paused.Store(true)
	}
}

func (u *unitState) clearPause() {
	u.paused.Store(false)
	if u.session != nil {
		u.session.paused.Store(false)
	}
}

// resumeReception restores receive after the last burst. A failed resume is
// reported, not retried.
func (u *unitState) resumeReception() {
	u.clearPause()
	cfg := u.rxConfig.Load()
	if cfg == nil {
		return
	}

	ok := false
	err := u.lock.acquire(context.Background(), u.timing.LockTimeout)
	switch {
	case err == nil:
		ok = u.radio.ResumeReceive(*cfg)
		u.lock.release()
	case errors.Is(err, ErrAborted) && u.terminate.Load():
		// The exit path closes the session.
		return
	}
	if !ok {
		err := fmt.Errorf("%w: %s at %d Hz", ErrReceiveResume, u.unit, cfg.Frequency)
		log.Printf("[ERROR] %s receive failed to resume after transmit", u.unit)
		u.publish(Event{Unit: u.unit, Flags: EventReceiveResumeFailed, Err: err})
	}
}
