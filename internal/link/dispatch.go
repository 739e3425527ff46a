// ABOUTME: Ordered callback queue drained by one goroutine per link.
// ABOUTME: Keeps slow or panicking callbacks away from the receive loop.

package link

import (
	"log/slog"
	"sync"
)

// dispatcher is an unbounded FIFO of callbacks. push never blocks.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	signal chan struct{}
}

func newDispatcher() *dispatcher {
	return &dispatcher{signal: make(chan struct{}, 1)}
}

func (d *dispatcher) push(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	d.wake()
	return true
}

// closeWith enqueues a final callback; nothing is accepted after it.
func (d *dispatcher) closeWith(fn func()) {
	d.mu.Lock()
	if !d.closed {
		d.queue = append(d.queue, fn)
		d.closed = true
	}
	d.mu.Unlock()
	d.wake()
}

func (d *dispatcher) wake() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run(logger *slog.Logger) {
	for range d.signal {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range batch {
			invoke(fn, logger)
		}
		if closed {
			return
		}
	}
}

func invoke(fn func(), logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("link callback panicked", "panic", r)
		}
	}()
	fn()
}
