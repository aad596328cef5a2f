package idle

import (
	"sync"
	"time"
)

// DefaultTimeout is how long keypad input may stall before the timeout fires.
const DefaultTimeout = 10 * time.Second

// Timer is a single-countdown inactivity timer. Arming it again cancels
// the pending countdown, so at most one countdown exists per timer and
// each arm fires its expiry callback at most once.
type Timer struct {
	mu       sync.Mutex
	duration time.Duration
	pending  *time.Timer
	gen      uint64
	armed    bool
	onExpire func()
}

// NewTimer builds a disarmed timer. onExpire runs outside the timer's
// lock, exactly once per arm that reaches expiry.
func NewTimer(duration time.Duration, onExpire func()) *Timer {
	if duration <= 0 {
		duration = DefaultTimeout
	}
	return &Timer{duration: duration, onExpire: onExpire}
}

// Start arms the countdown, cancelling any pending one.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armLocked(t.duration)
}

// Restart is Start; the distinction only matters to readers of call sites.
func (t *Timer) Restart() { t.Start() }

// Clear disarms the countdown without firing.
func (t *Timer) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
}

// Armed reports whether a countdown is pending.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// SetDuration updates the arm duration. If a countdown is pending it is
// re-armed immediately with the new value.
func (t *Timer) SetDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duration = d
	if t.armed {
		t.armLocked(d)
	}
}

func (t *Timer) armLocked(d time.Duration) {
	t.disarmLocked()
	t.gen++
	gen := t.gen
	t.armed = true
	t.pending = time.AfterFunc(d, func() { t.fire(gen) })
}

func (t *Timer) disarmLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.armed = false
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if !t.armed || gen != t.gen {
		// A Clear or re-arm raced the expiry; this countdown is stale.
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.pending = nil
	cb := t.onExpire
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}
