package radio

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// BufferPool is the bounded set of frame buffers of one receive session.
type BufferPool struct {
	unit     Unit
	size     int
	free     chan []byte
	released atomic.Bool
}

// NewBufferPool allocates count buffers of size bytes.
func NewBufferPool(unit Unit, count, size int) (*BufferPool, error) {
	if count <= 0 || size <= 0 {
		return nil, fmt.Errorf("%w: %s pool of %d x %d bytes", ErrBufferManager, unit, count, size)
	}
	p := &BufferPool{unit: unit, size: size, free: make(chan []byte, count)}
	for i := 0; i < count; i++ {
		p.free <- make([]byte, size)
	}
	return p, nil
}

// Get takes a buffer without waiting.
func (p *BufferPool) Get() ([]byte, bool) {
	if p.released.Load() {
		return nil, false
	}
	select {
	case b := <-p.free:
		return b[:p.size], true
	default:
		return nil, false
	}
}

// Put returns a buffer taken with Get.
func (p *BufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	select {
	case p.free <- b[:p.size]:
	default:
	}
}

// Available returns the number of free buffers.
func (p *BufferPool) Available() int {
	return len(p.free)
}

// Release drops the pool. Buffers still out are discarded on return.
func (p *BufferPool) Release() {
	p.released.Store(true)
}

// Released reports whether Release has been called.
func (p *BufferPool) Released() bool {
	return p.released.Load()
}

// CallbackManager runs session handler callbacks on one goroutine so a slow
// handler never stalls the decoder or the dispatcher.
type CallbackManager struct {
	unit    Unit
	handler Handler

	mu       sync.Mutex
	events   chan Event
	released bool
	done     chan struct{}
}

// NewCallbackManager starts the callback goroutine with a queue of depth
// events. A nil handler drops events.
func NewCallbackManager(unit Unit, handler Handler, depth int) (*CallbackManager, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("%w: %s queue depth %d", ErrCallbackManager, unit, depth)
	}
	c := &CallbackManager{
		unit:    unit,
		handler: handler,
		events:  make(chan Event, depth),
		done:    make(chan struct{}),
	}
	go c.run()
	return c, nil
}

func (c *CallbackManager) run() {
	defer close(c.done)
	for ev := range c.events {
		if c.handler != nil {
			c.handler(ev)
		}
	}
}

// Post queues ev without waiting. It returns false when the queue is full
// or the manager is released.
func (c *CallbackManager) Post(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// Release stops accepting events, drains the queue and waits for the
// callback goroutine to exit.
func (c *CallbackManager) Release() {
	c.mu.Lock()
	if !c.released {
		c.released = true
		close(c.events)
	}
	c.mu.Unlock()
	<-c.done
}

// Released reports whether Release has been called.
func (c *CallbackManager) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// defaultServices sizes session services from the timing config.
type defaultServices struct {
	buffers   int
	frameSize int
	depth     int
}

func (s defaultServices) NewBufferPool(unit Unit) (*BufferPool, error) {
	return NewBufferPool(unit, s.buffers, s.frameSize)
}

func (s defaultServices) NewCallbackManager(unit Unit, handler Handler) (*CallbackManager, error) {
	return NewCallbackManager(unit, handler, s.depth)
}

// receiveSession is the buffer pool, callback manager and optional decoder
// backing one open receive flow.
type receiveSession struct {
	unit       Unit
	modulation Modulation
	handler    Handler
	pool       *BufferPool
	callbacks  *CallbackManager
	decoder    Decoder

	paused  atomic.Bool
	frames  atomic.Uint64
	dropped atomic.Uint64
}

// Deliver copies a decoded frame into a pool buffer and posts it to the
// session handler. Frames are dropped while reception is paused or when no
// buffer is free.
func (s *receiveSession) Deliver(frame []byte) {
	if s.paused.Load() {
		s.dropped.Add(1)
		return
	}
	buf, ok := s.pool.Get()
	if !ok || len(frame) > len(buf) {
		if ok {
			s.pool.Put(buf)
		}
		s.dropped.Add(1)
		return
	}
	n := copy(buf, frame)
	if !s.callbacks.Post(Event{Unit: s.unit, Flags: EventFrame, Frame: buf[:n]}) {
		s.pool.Put(buf)
		s.dropped.Add(1)
		return
	}
	s.frames.Add(1)
}

// handle runs on the callback goroutine and recycles frame buffers once the
// handler returns.
func (s *receiveSession) handle(ev Event) {
	if s.handler != nil {
		s.handler(ev)
	}
	if ev.Frame != nil {
		s.pool.Put(ev.Frame)
	}
}

// openSession allocates the services of a receive session. On failure every
// service already allocated is released, the handler is told which stage
// failed and no session is returned.
func (u *unitState) openSession(mod Modulation, handler Handler) (*receiveSession, error) {
	c, ok := capabilityOf(mod)
	if !ok {
		return nil, fmt.Errorf("%s: unsupported modulation %d", u.unit, mod)
	}

	s := &receiveSession{unit: u.unit, modulation: mod, handler: handler}

	pool, err := u.services.NewBufferPool(u.unit)
	if err != nil {
		return nil, u.openFailed(handler, EventBufferManagerFailed, ErrBufferManager, err)
	}
	s.pool = pool

	callbacks, err := u.services.NewCallbackManager(u.unit, s.handle)
	if err != nil {
		pool.Release()
		return nil, u.openFailed(handler, EventCallbackManagerFailed, ErrCallbackManager, err)
	}
	s.callbacks = callbacks

	if c.decoded {
		var dec Decoder
		if u.decoders == nil {
			err = fmt.Errorf("no decoder factory for %s", mod)
		} else {
			dec, err = u.decoders.Create(u.unit, s)
		}
		if err != nil {
			callbacks.Release()
			pool.Release()
			return nil, u.openFailed(handler, EventDecoderStartFailed, ErrDecoderStart, err)
		}
		s.decoder = dec
	}

	return s, nil
}

// openFailed signals the failed stage straight to the handler, since the
// callback manager may be the part that failed.
func (u *unitState) openFailed(handler Handler, flag EventFlag, sentinel, cause error) error {
	err := fmt.Errorf("%w: %v", sentinel, cause)
	log.Printf("[ERROR] %s receive open failed: %v", u.unit, err)
	ev := Event{Unit: u.unit, Flags: flag, Err: err}
	if handler != nil {
		handler(ev)
	}
	u.publish(ev)
	return err
}

// closeSession terminates the decoder and releases the session services.
// The decoder must acknowledge the close before it is joined.
func (u *unitState) closeSession(s *receiveSession) error {
	var err error
	if s.decoder != nil {
		s.decoder.Close()
		if awaitCloseAck(s.decoder, u.timing.DecoderCloseTimeout) {
			s.decoder.Wait()
		} else {
			err = fmt.Errorf("%s decoder close not acknowledged within %v", u.unit, u.timing.DecoderCloseTimeout)
			log.Printf("[ERROR] %v", err)
			u.publish(Event{Unit: u.unit, Flags: EventDecoderCloseTimeout, Err: err})
		}
	}
	s.callbacks.Release()
	s.pool.Release()
	return err
}

// awaitCloseAck consumes decoder events until DecoderCloseAck. A closed
// event channel counts as acknowledged.
func awaitCloseAck(dec Decoder, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	events := dec.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok || ev == DecoderCloseAck {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}
