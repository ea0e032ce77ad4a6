// Package reconcile runs the periodic maintenance tick described in
// spec.md §4.8: a single 30-second timer calling World.Cleanup. Grounded on
// _examples/edgetainer-edgetainer/internal/agent/system/monitor.go's
// ticker-goroutine-plus-done-channel lifecycle.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanburgers/connectbot/internal/server/world"
)

// Interval is the only scheduled maintenance in the system; all other
// state changes are event-driven.
const Interval = 30 * time.Second

// Reconciler periodically calls World.Cleanup.
type Reconciler struct {
	World  *world.World
	Logger zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the reconciliation goroutine. It returns immediately; the
// goroutine exits when ctx is canceled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx)
}

// Stop cancels the reconciliation goroutine and blocks until it has exited.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.World.Cleanup(time.Now())
			r.Logger.Debug().Msg("reconciliation tick complete")
		case <-ctx.Done():
			return
		}
	}
}
