// Package throttle coalesces high-frequency values into at most one emission
// per window, always carrying the most recent value. A pending value is never
// dropped outright; it is flushed when the window elapses.
package throttle

import (
	"sync"
	"time"
)

// Throttler rate-bounds a stream of values of type T. The first Set in a
// quiet period schedules a flush one window later; Sets arriving before the
// flush replace the pending value. The emit callback runs off the caller's
// goroutine.
type Throttler[T any] struct {
	mu      sync.Mutex
	window  time.Duration
	emit    func(T)
	pending *T
	timer   *time.Timer
	stopped bool
}

// New creates a throttler emitting at most once per window.
func New[T any](window time.Duration, emit func(T)) *Throttler[T] {
	if window <= 0 {
		window = 30 * time.Millisecond
	}
	return &Throttler[T]{window: window, emit: emit}
}

// Set records the latest value and schedules a flush if none is pending.
func (t *Throttler[T]) Set(value T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.pending = &value
	if t.timer == nil {
		t.timer = time.AfterFunc(t.window, t.flush)
	}
}

func (t *Throttler[T]) flush() {
	t.mu.Lock()
	t.timer = nil
	pending := t.pending
	t.pending = nil
	stopped := t.stopped
	t.mu.Unlock()

	if pending != nil && !stopped && t.emit != nil {
		t.emit(*pending)
	}
}

// Flush emits any pending value immediately.
func (t *Throttler[T]) Flush() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	t.flush()
}

// Stop cancels any pending emission and rejects further Sets.
func (t *Throttler[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
