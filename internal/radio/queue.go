package radio

import (
	"errors"
	"time"

	"github.com/Workiva/go-datastructures/queue"
)

// taskQueue is the FIFO between producers and the unit dispatcher. Put never
// blocks; the pool bounds how many tasks can be in it.
type taskQueue struct {
	q *queue.Queue
}

func newTaskQueue(hint int) *taskQueue {
	return &taskQueue{q: queue.New(int64(hint))}
}

func (tq *taskQueue) put(t *Task) error {
	if err := tq.q.Put(t); err != nil {
		if errors.Is(err, queue.ErrDisposed) {
			return ErrTerminated
		}
		return err
	}
	return nil
}

// take waits up to timeout for the next task. A Put wakes it immediately.
func (tq *taskQueue) take(timeout time.Duration) (*Task, error) {
	items, err := tq.q.Poll(1, timeout)
	switch {
	case errors.Is(err, queue.ErrTimeout):
		return nil, ErrTimeout
	case errors.Is(err, queue.ErrDisposed):
		return nil, ErrTerminated
	case err != nil:
		return nil, err
	case len(items) == 0:
		return nil, ErrTimeout
	}
	return items[0].(*Task), nil
}

// dispose stops the queue and returns the tasks still in it, in order.
func (tq *taskQueue) dispose() []*Task {
	items := tq.q.Dispose()
	tasks := make([]*Task, 0, len(items))
	for _, item := range items {
		tasks = append(tasks, item.(*Task))
	}
	return tasks
}

func (tq *taskQueue) len() int {
	return int(tq.q.Len())
}
