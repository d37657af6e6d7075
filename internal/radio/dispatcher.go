package radio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/radio-control/tracker/internal/config"
)

// unitState is one radio unit. Fields below the dispatcher-owned marker are
// touched only by the unit's dispatcher goroutine.
type unitState struct {
	unit     Unit
	name     string
	band     Band
	radio    Transceiver
	decoders DecoderFactory
	services ServiceAllocator
	region   RegionLookup
	mgr      *Manager
	timing   *config.TimingConfig

	lock  *resourceLock
	pool  *taskPool
	queue *taskQueue

	rxConfig    atomic.Pointer[ReceiveConfig]
	txCount     atomic.Int32
	txSeq       atomic.Uint32
	paused      atomic.Bool
	sessionOpen atomic.Bool
	sessionMod  atomic.Int32
	terminate   atomic.Bool
	abort       <-chan struct{}
	done        chan struct{}

	// dispatcher-owned
	session    *receiveSession
	backlog    []*Task
	interval   time.Duration
	hysteresis int
}

// run is the dispatcher loop. It exits once terminate is requested and no
// transmission is in flight.
func (u *unitState) run() {
	defer close(u.done)

	u.interval = u.timing.IdlePoll
	log.Printf("[INFO] %s dispatcher started", u.unit)

	for !(u.terminate.Load() && u.txCount.Load() == 0) {
		task, err := u.next()
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				u.idle()
				continue
			}
			log.Printf("[ERROR] %s queue: %v", u.unit, err)
			return
		}
		u.dispatch(task)
	}

	u.exit()
	log.Printf("[INFO] %s dispatcher stopped", u.unit)
}

// next returns deferred work first once nothing is in flight, then the
// queue head.
func (u *unitState) next() (*Task, error) {
	if len(u.backlog) > 0 && u.txCount.Load() == 0 {
		task := u.backlog[0]
		u.backlog[0] = nil
		u.backlog = u.backlog[1:]
		return task, nil
	}
	return u.queue.take(u.interval)
}

// idle decays the fast TX poll back to the idle rate.
func (u *unitState) idle() {
	if u.hysteresis > 0 {
		u.hysteresis--
		if u.hysteresis == 0 {
			u.interval = u.timing.IdlePoll
		}
	}
}

// deferred reports whether task has to wait for in-flight transmissions.
// A close waits, and so does everything queued behind it, to keep order.
func (u *unitState) deferred(task *Task) bool {
	if task.Command == TxThreadDone || u.txCount.Load() == 0 {
		return false
	}
	return task.Command == RxClose || len(u.backlog) > 0
}

// dispatch executes one task exactly once.
func (u *unitState) dispatch(task *Task) {
	if !task.state.CompareAndSwap(taskQueued, taskRunning) {
		log.Printf("[ERROR] %s dropped %s task in state %d", u.unit, task.Command, task.state.Load())
		return
	}

	if u.deferred(task) {
		task.state.Store(taskQueued)
		u.backlog = append(u.backlog, task)
		log.Printf("[DEBUG] %s %s deferred behind %d transmissions", u.unit, task.Command, u.txCount.Load())
		return
	}

	start := time.Now()
	switch task.Command {
	case RxOpen:
		task.Result = u.rxOpen(task)
	case RxStart:
		task.Result = u.rxStart(task)
	case RxStop:
		task.Result = u.rxStop()
	case RxClose:
		task.Result = u.rxClose()
	case TxSend:
		if u.txSend(task) {
			return
		}
	case TxThreadDone:
		u.txThreadDone(task)
	default:
		task.Result = fmt.Errorf("%s: unknown command %s", u.unit, task.Command)
	}

	u.complete(task, time.Since(start))
}

// complete audits the command, runs the callback, signals a close rendezvous
// and returns the task to the pool.
func (u *unitState) complete(task *Task, latency time.Duration) {
	u.mgr.audit(task, latency)
	if task.callback != nil {
		task.callback(task)
	}
	if task.closed != nil {
		close(task.closed)
	}
	u.pool.put(task)
}

func (u *unitState) rxOpen(task *Task) error {
	if u.session != nil {
		return fmt.Errorf("%w: %s already has a %s session", ErrSessionOpen, u.unit, u.session.modulation)
	}

	s, err := u.openSession(task.Modulation, task.Handler)
	if err != nil {
		return err
	}

	if err := u.radio.Init(); err != nil {
		if cerr := u.closeSession(s); cerr != nil {
			log.Printf("[WARN] %s close on init failure: %v", u.unit, cerr)
		}
		err = fmt.Errorf("%s radio init: %w", u.unit, err)
		log.Printf("[ERROR] %v", err)
		return err
	}

	u.session = s
	u.sessionMod.Store(int32(s.modulation))
	u.sessionOpen.Store(true)
	log.Printf("[INFO] %s receive session opened (%s)", u.unit, s.modulation)
	u.publish(Event{Unit: u.unit, Flags: EventReceiveOpened})
	return nil
}

func (u *unitState) rxStart(task *Task) error {
	s := u.session
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, u.unit)
	}

	t, err := u.resolve(task.BaseFrequency, task.Step, task.Channel, ModeReceive)
	if err != nil {
		return err
	}

	if err := u.lock.acquire(context.Background(), u.timing.LockTimeout); err != nil {
		return fmt.Errorf("%s acquire: %w", u.unit, err)
	}
	defer u.lock.release()

	cfg := ReceiveConfig{
		Modulation: s.modulation,
		Base:       t.base,
		Step:       t.step,
		Channel:    t.channel,
		Squelch:    task.Squelch,
		Frequency:  t.op,
	}

	// Half duplex: with a burst on air the receiver comes up when the last
	// transmission is reclaimed.
	if u.txCount.Load() > 0 {
		u.paused.Store(true)
		s.paused.Store(true)
	} else {
		if err := u.radio.SetBand(t.base, t.step); err != nil {
			return fmt.Errorf("%s set band: %w", u.unit, err)
		}
		if err := u.radio.EnableReceive(cfg); err != nil {
			return fmt.Errorf("%s enable receive: %w", u.unit, err)
		}
	}

	if s.decoder != nil {
		if err := s.decoder.Start(); err != nil {
			return fmt.Errorf("%w: %v", ErrDecoderStart, err)
		}
	}

	u.rxConfig.Store(&cfg)
	log.Printf("[INFO] %s receive started at %d Hz", u.unit, t.op)
	u.publish(Event{Unit: u.unit, Flags: EventReceiveStarted})
	return nil
}

func (u *unitState) rxStop() error {
	s := u.session
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, u.unit)
	}

	if err := u.lock.acquire(context.Background(), u.timing.LockTimeout); err != nil {
		return fmt.Errorf("%s acquire: %w", u.unit, err)
	}
	defer u.lock.release()

	if s.decoder != nil {
		if err := s.decoder.Stop(); err != nil {
			return fmt.Errorf("%s stop decoder: %w", u.unit, err)
		}
	}

	u.rxConfig.Store(nil)
	u.clearPause()
	u.publish(Event{Unit: u.unit, Flags: EventReceiveStopped})
	return nil
}

func (u *unitState) rxClose() error {
	s := u.session
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, u.unit)
	}

	// Teardown proceeds even if the lock cannot be had.
	lockErr := u.lock.acquire(context.Background(), u.timing.LockTimeout)
	if lockErr != nil {
		log.Printf("[WARN] %s closing without lock: %v", u.unit, lockErr)
	}
	if err := u.radio.DisableReceive(); err != nil {
		log.Printf("[WARN] %s disable receive: %v", u.unit, err)
	}
	if lockErr == nil {
		u.lock.release()
	}

	u.rxConfig.Store(nil)
	u.clearPause()
	err := u.closeSession(s)

	u.session = nil
	u.sessionOpen.Store(false)
	u.sessionMod.Store(int32(ModNone))
	log.Printf("[INFO] %s receive session closed (%d frames, %d dropped)", u.unit, s.frames.Load(), s.dropped.Load())
	u.publish(Event{Unit: u.unit, Flags: EventReceiveClosed, Err: err})
	return err
}

// scheduleCompletion requeues a transmit task as TxThreadDone.
func (u *unitState) scheduleCompletion(task *Task, w *TransmitWorker) error {
	if task == nil || w == nil || task.worker != w {
		return fmt.Errorf("%w: worker does not own task", ErrTaskInUse)
	}
	if !task.state.CompareAndSwap(taskTransmitting, taskQueued) {
		return fmt.Errorf("%w: task is not transmitting", ErrTaskInUse)
	}
	task.Command = TxThreadDone
	task.queuedAt = time.Now()
	return u.queue.put(task)
}

// exit fails whatever is still queued, tears down an open session and
// powers the radio down.
func (u *unitState) exit() {
	remaining := append(u.backlog, u.queue.dispose()...)
	u.backlog = nil
	for _, task := range remaining {
		if !task.state.CompareAndSwap(taskQueued, taskRunning) {
			continue
		}
		task.Result = ErrTerminated
		task.Packet.Release()
		u.complete(task, 0)
	}

	if u.session != nil {
		if err := u.rxClose(); err != nil {
			log.Printf("[WARN] %s close on exit: %v", u.unit, err)
		}
	}
	if err := u.radio.Shutdown(); err != nil {
		log.Printf("[WARN] %s shutdown: %v", u.unit, err)
	}
}

func (u *unitState) publish(ev Event) {
	if u.mgr.events != nil {
		u.mgr.events.PublishEvent(ev)
	}
}
