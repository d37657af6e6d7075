package radio

import (
	"context"
	"fmt"
	"time"
)

// TransmitRequest is a single outbound burst.
type TransmitRequest struct {
	Modulation Modulation
	Frequency  Frequency
	Step       uint32
	Channel    uint16
	Power      uint8
	Packet     *Packet
}

// TransmitResult is the outcome of one burst.
type TransmitResult struct {
	Sequence uint32
	Err      error
}

// exec obtains a task, lets fill populate it, submits it and waits for the
// completion callback. pkt is released if the task never reaches the
// dispatcher; afterwards the dispatcher owns it.
func (m *Manager) exec(ctx context.Context, unit Unit, pkt *Packet, fill func(*Task)) (TransmitResult, error) {
	task, err := m.GetTaskObject(ctx, unit, m.timing.TaskTimeout)
	if err != nil {
		pkt.Release()
		return TransmitResult{}, err
	}
	fill(task)

	done := make(chan TransmitResult, 1)
	if err := m.SubmitTask(unit, task, func(t *Task) {
		done <- TransmitResult{Sequence: t.Sequence, Err: t.Result}
	}); err != nil {
		pkt.Release()
		return TransmitResult{}, err
	}

	select {
	case res := <-done:
		return res, res.Err
	case <-ctx.Done():
		return TransmitResult{}, ctx.Err()
	}
}

// OpenReceive opens a receive session with the given modulation. Frames and
// session events go to handler on the session's callback goroutine.
func (m *Manager) OpenReceive(ctx context.Context, unit Unit, mod Modulation, handler Handler) error {
	_, err := m.exec(ctx, unit, nil, func(t *Task) {
		t.Command = RxOpen
		t.Modulation = mod
		t.Handler = handler
	})
	return err
}

// StartReceive tunes the receiver. base may be a frequency sentinel.
func (m *Manager) StartReceive(ctx context.Context, unit Unit, base Frequency, step uint32, channel uint16, squelch uint8) error {
	_, err := m.exec(ctx, unit, nil, func(t *Task) {
		t.Command = RxStart
		t.BaseFrequency = base
		t.Step = step
		t.Channel = channel
		t.Squelch = squelch
	})
	return err
}

// StopReceive stops reception but keeps the session open.
func (m *Manager) StopReceive(ctx context.Context, unit Unit) error {
	_, err := m.exec(ctx, unit, nil, func(t *Task) {
		t.Command = RxStop
	})
	return err
}

// CloseReceive closes the receive session. It waits for the close to be
// executed, which happens only after every in-flight transmission finished.
func (m *Manager) CloseReceive(ctx context.Context, unit Unit) error {
	task, err := m.GetTaskObject(ctx, unit, m.timing.TaskTimeout)
	if err != nil {
		return err
	}
	task.Command = RxClose
	closed := make(chan struct{})
	task.closed = closed

	var result error
	if err := m.SubmitTask(unit, task, func(t *Task) { result = t.Result }); err != nil {
		return err
	}

	select {
	case <-closed:
		return result
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transmit sends one burst and waits until the transmit worker has been
// reclaimed. The packet is released in every case.
func (m *Manager) Transmit(ctx context.Context, unit Unit, req TransmitRequest) (TransmitResult, error) {
	if req.Packet.Len() == 0 {
		req.Packet.Release()
		return TransmitResult{}, fmt.Errorf("%w: empty packet", ErrSendRejected)
	}
	return m.exec(ctx, unit, req.Packet, func(t *Task) {
		fillTransmit(t, req)
	})
}

// TransmitAsync queues one burst and returns at once. done, if non-nil, is
// called on the dispatcher goroutine with the final outcome.
func (m *Manager) TransmitAsync(ctx context.Context, unit Unit, req TransmitRequest, done func(TransmitResult)) error {
	if req.Packet.Len() == 0 {
		req.Packet.Release()
		return fmt.Errorf("%w: empty packet", ErrSendRejected)
	}
	task, err := m.GetTaskObject(ctx, unit, m.timing.TaskTimeout)
	if err != nil {
		req.Packet.Release()
		return err
	}
	fillTransmit(task, req)

	var cb Callback
	if done != nil {
		cb = func(t *Task) { done(TransmitResult{Sequence: t.Sequence, Err: t.Result}) }
	}
	if err := m.SubmitTask(unit, task, cb); err != nil {
		req.Packet.Release()
		return err
	}
	return nil
}

func fillTransmit(t *Task, req TransmitRequest) {
	t.Command = TxSend
	t.Modulation = req.Modulation
	t.BaseFrequency = req.Frequency
	t.Step = req.Step
	t.Channel = req.Channel
	t.Power = req.Power
	t.Packet = req.Packet
}

// WaitIdle blocks until unit has no transmission in flight or timeout passes.
func (m *Manager) WaitIdle(ctx context.Context, unit Unit, timeout time.Duration) error {
	u, err := m.unitState(unit)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(m.timing.TxPoll)
	defer ticker.Stop()
	for u.txCount.Load() > 0 {
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
