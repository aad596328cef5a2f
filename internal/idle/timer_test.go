package idle

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFiresExactlyOnce(t *testing.T) {
	var fired atomic.Int32
	timer := NewTimer(10*time.Millisecond, func() { fired.Add(1) })
	timer.Start()

	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
}

func TestRestartDelaysExpiry(t *testing.T) {
	var fired atomic.Int32
	timer := NewTimer(10*time.Millisecond, func() { fired.Add(1) })
	timer.Start()

	time.Sleep(5 * time.Millisecond)
	timer.Restart()

	// 10ms after the original arm the countdown must not have fired yet,
	// because the restart at 5ms pushed expiry to ~15ms.
	time.Sleep(7 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("fired %d times before restarted deadline", got)
	}

	time.Sleep(40 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
}

func TestClearPreventsFiring(t *testing.T) {
	var fired atomic.Int32
	timer := NewTimer(10*time.Millisecond, func() { fired.Add(1) })
	timer.Start()
	timer.Clear()

	time.Sleep(40 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("fired %d times after Clear", got)
	}
	if timer.Armed() {
		t.Fatalf("timer should be disarmed after Clear")
	}
}

func TestSetDurationReArmsPendingCountdown(t *testing.T) {
	var fired atomic.Int32
	timer := NewTimer(500*time.Millisecond, func() { fired.Add(1) })
	timer.Start()
	timer.SetDuration(10 * time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired %d times, want 1 after SetDuration re-arm", got)
	}
}

func TestSetDurationWhileDisarmedOnlyAffectsFutureArms(t *testing.T) {
	var fired atomic.Int32
	timer := NewTimer(500*time.Millisecond, func() { fired.Add(1) })
	timer.SetDuration(10 * time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("fired %d times without Start", got)
	}

	timer.Start()
	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
}
