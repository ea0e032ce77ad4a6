package idlestream

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// TestBoundaryTimeoutThenDisconnect asserts spec.md §8's idle-detector
// boundary laws: silence in [WarningLevel, DisconnectLevel) produces
// exactly one Timeout and no disconnect; silence reaching
// DisconnectLevel ends the stream.
func TestBoundaryTimeoutThenDisconnect(t *testing.T) {
	d := &Detector{WarningLevel: 40 * time.Millisecond, DisconnectLevel: 120 * time.Millisecond}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var timeouts int32
	canceled := make(chan struct{})

	d.Start(ctx, func() { close(canceled) }, func() { atomic.AddInt32(&timeouts, 1) })

	// At ~70ms of total silence -- inside [40ms, 120ms) -- exactly one
	// Timeout must have fired, and the stream must still be alive.
	time.Sleep(70 * time.Millisecond)
	if got := atomic.LoadInt32(&timeouts); got != 1 {
		t.Fatalf("expected exactly one Timeout in [W,D), got %d", got)
	}
	select {
	case <-canceled:
		t.Fatalf("cancel fired before DisconnectLevel elapsed")
	default:
	}

	// Once total silence reaches DisconnectLevel, the stream ends.
	select {
	case <-canceled:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected cancel once DisconnectLevel elapsed")
	}
	if got := atomic.LoadInt32(&timeouts); got != 1 {
		t.Fatalf("expected no further Timeout after cancel, got %d", got)
	}
}

// TestActivityResetsTheWindow asserts that activity recorded before
// WarningLevel elapses postpones both the Timeout and the disconnect
// indefinitely.
func TestActivityResetsTheWindow(t *testing.T) {
	d := &Detector{WarningLevel: 40 * time.Millisecond, DisconnectLevel: 120 * time.Millisecond}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var timeouts int32
	canceled := make(chan struct{})

	d.Start(ctx, func() { close(canceled) }, func() { atomic.AddInt32(&timeouts, 1) })

	for i := 0; i < 4; i++ {
		time.Sleep(25 * time.Millisecond)
		d.Touch()
	}

	if got := atomic.LoadInt32(&timeouts); got != 0 {
		t.Fatalf("expected no Timeout while activity keeps resetting the window, got %d", got)
	}
	select {
	case <-canceled:
		t.Fatalf("cancel fired despite ongoing activity")
	default:
	}
}

// TestActivityAfterTimeoutResetsToWarningLevel asserts that activity
// recorded after a Timeout but before the disconnect deadline puts the
// detector back to watching for the next WarningLevel, per Detector.Start's
// doc comment.
func TestActivityAfterTimeoutResetsToWarningLevel(t *testing.T) {
	d := &Detector{WarningLevel: 30 * time.Millisecond, DisconnectLevel: 70 * time.Millisecond}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var timeouts int32
	canceled := make(chan struct{})

	d.Start(ctx, func() { close(canceled) }, func() { atomic.AddInt32(&timeouts, 1) })

	// Let the first Timeout fire (at ~30ms), then touch before the
	// remaining 40ms to DisconnectLevel elapses.
	time.Sleep(45 * time.Millisecond)
	if got := atomic.LoadInt32(&timeouts); got != 1 {
		t.Fatalf("expected one Timeout by 45ms, got %d", got)
	}
	d.Touch()

	// Without the reset, cancel would fire at DisconnectLevel (~70ms). At
	// ~80ms the detector must instead be watching for a fresh WarningLevel,
	// so no disconnect may have happened yet.
	time.Sleep(35 * time.Millisecond)
	select {
	case <-canceled:
		t.Fatalf("cancel fired despite activity resetting the window after Timeout")
	default:
	}
}

func TestNonPositiveWarningLevelDisablesTracking(t *testing.T) {
	d := &Detector{}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	called := false
	d.Start(ctx, func() { called = true }, func() { called = true })

	time.Sleep(20 * time.Millisecond)
	if called {
		t.Fatalf("expected Start to be a no-op when WarningLevel <= 0")
	}
}
