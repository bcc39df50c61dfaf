package transport

import (
	"sync"
	"time"
)

// IdleTimer fires a callback after a period without activity.
//
// The timer is disarmed after it fires and re-armed by the next Touch, so a
// silent connection produces one timeout per idle period rather than a
// stream of them.
type IdleTimer struct {
	mu        sync.Mutex
	timeout   time.Duration
	timer     *time.Timer
	stopped   bool
	onTimeout func()
}

// NewIdleTimer creates a disarmed idle timer.
func NewIdleTimer(onTimeout func()) *IdleTimer {
	return &IdleTimer{onTimeout: onTimeout}
}

// Set changes the idle timeout. Zero disables it.
func (it *IdleTimer) Set(d time.Duration) {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.timeout = d
	if it.timer != nil {
		it.timer.Stop()
		it.timer = nil
	}
	if d > 0 && !it.stopped {
		it.timer = time.AfterFunc(d, it.fire)
	}
}

// Timeout returns the configured idle timeout.
func (it *IdleTimer) Timeout() time.Duration {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.timeout
}

// Touch records activity and restarts the idle period.
func (it *IdleTimer) Touch() {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.stopped || it.timeout <= 0 {
		return
	}
	if it.timer == nil {
		it.timer = time.AfterFunc(it.timeout, it.fire)
		return
	}
	it.timer.Reset(it.timeout)
}

// Stop disarms the timer permanently.
func (it *IdleTimer) Stop() {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.stopped = true
	if it.timer != nil {
		it.timer.Stop()
		it.timer = nil
	}
}

func (it *IdleTimer) fire() {
	it.mu.Lock()
	if it.stopped {
		it.mu.Unlock()
		return
	}
	it.timer = nil
	cb := it.onTimeout
	it.mu.Unlock()

	if cb != nil {
		cb()
	}
}
