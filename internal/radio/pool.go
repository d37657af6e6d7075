package radio

import (
	"context"
	"time"
)

// taskPool is the fixed set of task objects of one unit. The buffered
// channel is the free list; its capacity bounds outstanding tasks.
type taskPool struct {
	free chan *Task
}

func newTaskPool(u *unitState, size int) *taskPool {
	p := &taskPool{free: make(chan *Task, size)}
	for i := 0; i < size; i++ {
		p.free <- &Task{unit: u}
	}
	return p
}

// get takes a free task, waiting up to timeout. timeout <= 0 waits until
// ctx is done or the unit terminates.
func (p *taskPool) get(ctx context.Context, timeout time.Duration, abort <-chan struct{}) (*Task, error) {
	select {
	case t := <-p.free:
		return p.hold(t), nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case t := <-p.free:
		return p.hold(t), nil
	case <-expired:
		return nil, ErrTimeout
	case <-abort:
		return nil, ErrTerminated
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *taskPool) hold(t *Task) *Task {
	t.state.Store(taskHeld)
	return t
}

// put clears t and returns it to the free list. A task that is already
// free is ignored so it can never sit in the list twice.
func (p *taskPool) put(t *Task) {
	if t.state.Swap(taskFree) == taskFree {
		return
	}
	t.reset()
	p.free <- t
}

// available returns the number of free tasks.
func (p *taskPool) available() int {
	return len(p.free)
}
