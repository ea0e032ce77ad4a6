// Package idlestream wraps a net.Conn (or any activity source) with a
// two-threshold idle detector: it emits a warning after warning_level of
// silence and terminates the stream after disconnect_level (spec.md §4.4).
package idlestream

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// Detector tracks read/write activity on a connection and drives two
// escalating reactions to silence: a Timeout callback at WarningLevel, then
// a Cancel at DisconnectLevel. It generalizes a single-threshold idle
// tracker to the server's (10s, 30s) and the device's (60s, 120s) defaults.
type Detector struct {
	WarningLevel    time.Duration
	DisconnectLevel time.Duration

	currentCounter uint64
}

// Touch records one unit of activity.
func (d *Detector) Touch() {
	atomic.AddUint64(&d.currentCounter, 1)
}

var _ net.Conn = activityConn{}

type activityConn struct {
	net.Conn
	counter *uint64
}

func (c activityConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		atomic.AddUint64(c.counter, 1)
	}
	return n, err
}

func (c activityConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		atomic.AddUint64(c.counter, 1)
	}
	return n, err
}

// TrackConn returns a net.Conn wrapping c that touches the detector on
// every successful Read or Write.
func (d *Detector) TrackConn(c net.Conn) net.Conn {
	if d.WarningLevel <= 0 && d.DisconnectLevel <= 0 {
		return c
	}
	return activityConn{c, &d.currentCounter}
}

// Start launches the tracking goroutine. onTimeout is invoked at most once
// per silent interval, when WarningLevel elapses without activity. cancel
// is invoked, and the goroutine exits, when DisconnectLevel elapses without
// activity. Any activity recorded after a Timeout but before the disconnect
// deadline resets the detector back to watching for the next WarningLevel.
// Start returns immediately; the goroutine exits when ctx is canceled.
func (d *Detector) Start(ctx context.Context, cancel func(), onTimeout func()) {
	if d.WarningLevel <= 0 {
		return
	}
	go d.track(ctx, cancel, onTimeout)
}

func (d *Detector) track(ctx context.Context, cancel func(), onTimeout func()) {
	done := ctx.Done()
	previous := atomic.LoadUint64(&d.currentCounter)
	warned := false
	interval := d.WarningLevel

	for {
		select {
		case <-time.After(interval):
			current := atomic.LoadUint64(&d.currentCounter)
			if current != previous {
				previous = current
				warned = false
				interval = d.WarningLevel
				continue
			}

			if !warned {
				warned = true
				if onTimeout != nil {
					onTimeout()
				}
				remaining := d.DisconnectLevel - d.WarningLevel
				if remaining <= 0 {
					cancel()
					return
				}
				interval = remaining
				continue
			}

			cancel()
			return

		case <-done:
			return
		}
	}
}
