package radio

import (
	"context"
	"time"
)

// resourceLock is a binary semaphore that can be aborted. Acquisition
// returns nil, ErrTimeout or ErrAborted.
type resourceLock struct {
	sem   chan struct{}
	abort <-chan struct{}
}

func newResourceLock(abort <-chan struct{}) *resourceLock {
	l := &resourceLock{sem: make(chan struct{}, 1), abort: abort}
	l.sem <- struct{}{}
	return l
}

// acquire waits up to timeout; timeout <= 0 waits until ctx is done or the
// lock is aborted.
func (l *resourceLock) acquire(ctx context.Context, timeout time.Duration) error {
	select {
	case <-l.abort:
		return ErrAborted
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-l.sem:
		return nil
	case <-expired:
		return ErrTimeout
	case <-l.abort:
		return ErrAborted
	case <-ctx.Done():
		return ErrAborted
	}
}

// release returns the token. Releasing an unheld lock is a no-op.
func (l *resourceLock) release() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}
