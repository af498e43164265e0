package blobfs

import (
	"sync"
	"sync/atomic"
)

// Reactor is the single goroutine that owns all filesystem state. Messages
// sent to it run one at a time, in order, each to completion before the
// next one starts.
type Reactor struct {
	name string

	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	started atomic.Bool
	stop    atomic.Bool
	dropped atomic.Int64
}

// NewReactor creates a reactor. Call Start to launch its goroutine.
func NewReactor(name string) *Reactor {
	return &Reactor{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Name returns the reactor name.
func (r *Reactor) Name() string {
	return r.name
}

// Start launches the reactor goroutine. It is a no-op if already started.
func (r *Reactor) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.run()
}

// Send queues fn to run on the reactor. It never blocks. It returns
// ErrReactorStopped once the reactor has stopped accepting messages.
func (r *Reactor) Send(fn func()) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrReactorStopped
	}
	r.queue = append(r.queue, fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

// Stop asks the reactor to exit after the message currently running. It is
// meant to be called from a message or completion callback on the reactor;
// messages still queued behind it are discarded.
func (r *Reactor) Stop() {
	r.stop.Store(true)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Done returns a channel closed when the reactor goroutine has exited.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the reactor goroutine has exited.
func (r *Reactor) Wait() {
	<-r.done
}

// Dropped returns the number of queued messages discarded at stop.
func (r *Reactor) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Reactor) run() {
	defer close(r.done)

	for {
		<-r.wake

		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		r.mu.Unlock()

		for i, fn := range batch {
			if r.stop.Load() {
				r.dropped.Add(int64(len(batch) - i))
				break
			}
			fn()
		}

		if r.stop.Load() {
			r.mu.Lock()
			r.closed = true
			r.dropped.Add(int64(len(r.queue)))
			r.queue = nil
			r.mu.Unlock()
			return
		}
	}
}
