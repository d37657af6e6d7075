package radio

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/radio-control/tracker/internal/config"
)

// UnitSpec describes one radio unit handed to NewManager.
type UnitSpec struct {
	Unit     Unit
	Name     string
	Band     Band
	Radio    Transceiver
	Decoders DecoderFactory
	// Services defaults to pools sized from the timing config.
	Services ServiceAllocator
}

// Options configures a Manager.
type Options struct {
	Timing *config.TimingConfig
	Units  []UnitSpec
	Region RegionLookup
	Events EventPublisher
	Audit  AuditLogger
}

// Manager owns the registry of radio units and their dispatchers.
type Manager struct {
	timing *config.TimingConfig
	units  map[Unit]*unitState
	order  []Unit
	events EventPublisher
	auditL AuditLogger

	abort     chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewManager builds the unit registry and starts one dispatcher per unit.
// The unit set is fixed for the life of the manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Timing == nil {
		return nil, fmt.Errorf("timing config is required")
	}
	if err := config.ValidateTiming(opts.Timing); err != nil {
		return nil, fmt.Errorf("invalid timing: %w", err)
	}
	if len(opts.Units) == 0 {
		return nil, fmt.Errorf("at least one radio unit is required")
	}

	m := &Manager{
		timing: opts.Timing,
		units:  make(map[Unit]*unitState, len(opts.Units)),
		events: opts.Events,
		auditL: opts.Audit,
		abort:  make(chan struct{}),
	}

	for _, spec := range opts.Units {
		if _, dup := m.units[spec.Unit]; dup {
			return nil, fmt.Errorf("%w: %s registered twice", ErrInvalidUnit, spec.Unit)
		}
		if spec.Unit < 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidUnit, spec.Unit)
		}
		if spec.Radio == nil {
			return nil, fmt.Errorf("%s: transceiver is required", spec.Unit)
		}
		if spec.Band.Max <= spec.Band.Min || !spec.Band.Contains(spec.Band.Default) || spec.Band.Step == 0 {
			return nil, fmt.Errorf("%s: invalid band %+v", spec.Unit, spec.Band)
		}

		services := spec.Services
		if services == nil {
			services = defaultServices{
				buffers:   opts.Timing.RxBuffers,
				frameSize: opts.Timing.FrameSize,
				depth:     opts.Timing.CallbackDepth,
			}
		}

		u := &unitState{
			unit:     spec.Unit,
			name:     spec.Name,
			band:     spec.Band,
			radio:    spec.Radio,
			decoders: spec.Decoders,
			services: services,
			region:   opts.Region,
			mgr:      m,
			timing:   opts.Timing,
			lock:     newResourceLock(m.abort),
			queue:    newTaskQueue(opts.Timing.PoolSize),
			abort:    m.abort,
			done:     make(chan struct{}),
		}
		u.pool = newTaskPool(u, opts.Timing.PoolSize)
		m.units[spec.Unit] = u
		m.order = append(m.order, spec.Unit)
	}
	sort.Slice(m.order, func(i, j int) bool { return m.order[i] < m.order[j] })

	for _, unit := range m.order {
		go m.units[unit].run()
	}

	return m, nil
}

func (m *Manager) unitState(unit Unit) (*unitState, error) {
	u, ok := m.units[unit]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidUnit, unit)
	}
	return u, nil
}

// Units returns the registered unit identifiers in ascending order.
func (m *Manager) Units() []Unit {
	out := make([]Unit, len(m.order))
	copy(out, m.order)
	return out
}

// GetTaskObject takes a free task of unit, waiting up to timeout. A timeout
// <= 0 waits until ctx is done. Pool exhaustion yields ErrTimeout.
func (m *Manager) GetTaskObject(ctx context.Context, unit Unit, timeout time.Duration) (*Task, error) {
	u, err := m.unitState(unit)
	if err != nil {
		return nil, err
	}
	if u.terminate.Load() {
		return nil, ErrTerminated
	}
	return u.pool.get(ctx, timeout, m.abort)
}

// SubmitTask queues task on unit with an optional completion callback. It
// never blocks. On error the task goes back to the pool.
func (m *Manager) SubmitTask(unit Unit, task *Task, cb Callback) error {
	u, err := m.unitState(unit)
	if err != nil {
		return err
	}
	if task == nil || task.unit != u {
		return fmt.Errorf("%w: task does not belong to %s", ErrTaskInUse, unit)
	}
	if !task.state.CompareAndSwap(taskHeld, taskQueued) {
		return fmt.Errorf("%w: %s task already submitted", ErrTaskInUse, task.Command)
	}
	if task.Command == TxThreadDone || task.Command == CmdNone {
		task.state.Store(taskHeld)
		u.pool.put(task)
		return fmt.Errorf("%s: %s cannot be submitted", unit, task.Command)
	}

	task.callback = cb
	task.queuedAt = time.Now()
	if u.terminate.Load() {
		u.pool.put(task)
		return ErrTerminated
	}
	if err := u.queue.put(task); err != nil {
		u.pool.put(task)
		return err
	}
	return nil
}

// ReleaseTaskObject returns a task that was obtained but never submitted.
func (m *Manager) ReleaseTaskObject(task *Task) {
	if task == nil || task.unit == nil {
		return
	}
	if task.state.Load() == taskHeld {
		task.Packet.Release()
		task.unit.pool.put(task)
	}
}

// ScheduleTransmitCompletion hands a finished transmit task back to its
// dispatcher. TransmitWorker.Go calls it when the burst returns.
func (m *Manager) ScheduleTransmitCompletion(task *Task, w *TransmitWorker) error {
	if task == nil || task.unit == nil {
		return fmt.Errorf("%w: nil task", ErrTaskInUse)
	}
	return task.unit.scheduleCompletion(task, w)
}

// AcquireRadio takes exclusive hardware access to unit. It returns nil,
// ErrTimeout, or ErrAborted when ctx ends or the manager closes.
func (m *Manager) AcquireRadio(ctx context.Context, unit Unit, timeout time.Duration) error {
	u, err := m.unitState(unit)
	if err != nil {
		return err
	}
	return u.lock.acquire(ctx, timeout)
}

// ReleaseRadio releases a lock taken with AcquireRadio.
func (m *Manager) ReleaseRadio(unit Unit) error {
	u, err := m.unitState(unit)
	if err != nil {
		return err
	}
	if !u.lock.release() {
		log.Printf("[WARN] %s released while not held", unit)
	}
	return nil
}

// ComputeOperatingFrequency resolves sentinels and returns base +
// step*channel, or FreqInvalid with ErrInvalidFrequency when the result is
// outside the unit's band.
func (m *Manager) ComputeOperatingFrequency(unit Unit, base Frequency, step uint32, channel uint16, mode Mode) (Frequency, error) {
	u, err := m.unitState(unit)
	if err != nil {
		return FreqInvalid, err
	}
	t, err := u.resolve(base, step, channel, mode)
	if err != nil {
		return FreqInvalid, err
	}
	return t.op, nil
}

// IsFrequencyInBand reports whether f is tunable on unit.
func (m *Manager) IsFrequencyInBand(unit Unit, f Frequency) bool {
	u, err := m.unitState(unit)
	if err != nil {
		return false
	}
	return u.band.Contains(f)
}

// Close requests termination of every dispatcher and waits for them to
// exit. Dispatchers with transmissions in flight finish those first.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		for _, unit := range m.order {
			m.units[unit].terminate.Store(true)
		}
		close(m.abort)

		deadline := time.NewTimer(m.timing.ShutdownTimeout)
		defer deadline.Stop()
		for _, unit := range m.order {
			u := m.units[unit]
			select {
			case <-u.done:
			case <-deadline.C:
				m.closeErr = fmt.Errorf("%s dispatcher did not stop within %v (%d transmissions in flight)",
					unit, m.timing.ShutdownTimeout, u.txCount.Load())
				log.Printf("[ERROR] %v", m.closeErr)
				return
			}
		}
		log.Printf("[INFO] radio manager stopped")
	})
	return m.closeErr
}

// audit records one executed command.
func (m *Manager) audit(task *Task, latency time.Duration) {
	if m.auditL == nil {
		return
	}
	params := map[string]interface{}{
		"modulation": task.Modulation.String(),
		"latencyMs":  latency.Milliseconds(),
	}
	switch task.Command {
	case RxStart:
		params["frequency"] = uint32(task.BaseFrequency)
		params["channel"] = task.Channel
		params["squelch"] = task.Squelch
	case TxSend, TxThreadDone:
		params["sequence"] = task.Sequence
		params["frequency"] = uint32(task.BaseFrequency)
		params["bytes"] = task.Packet.Len()
		if task.worker != nil {
			params["burstMs"] = task.worker.Duration().Milliseconds()
		}
	}
	outcome := "SUCCESS"
	if task.Result != nil {
		outcome = "FAILED"
	}
	m.auditL.LogControlAction(context.Background(), task.Command.String(), task.unit.unit.String(), params, outcome, task.Result)
}
