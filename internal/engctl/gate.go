// Package engctl holds the pause/resume/stop control primitive shared
// by the fuzzing, crawler, and active-scanner engines: workers finish
// their in-flight unit of work, then park until resumed or canceled.
package engctl

import "context"

// Gate lets a controller pause and resume a pool of worker goroutines.
// Stopping is modeled by canceling the context passed to Wait, not by
// the gate itself.
type Gate struct {
	pause  chan struct{}
	resume chan struct{}
}

// NewGate returns a gate in the running (not paused) state.
func NewGate() *Gate {
	g := &Gate{pause: make(chan struct{}), resume: make(chan struct{})}
	close(g.resume) // Wait returns immediately until Pause is called
	return g
}

// Pause parks subsequent Wait calls until Resume is called. Idempotent.
func (g *Gate) Pause() {
	select {
	case <-g.pause:
		return // already paused
	default:
	}
	g.resume = make(chan struct{})
	close(g.pause)
}

// Resume releases any workers parked in Wait. Idempotent.
func (g *Gate) Resume() {
	select {
	case <-g.resume:
		return // already running
	default:
	}
	g.pause = make(chan struct{})
	close(g.resume)
}

// Wait blocks while the gate is paused. A worker calls this between
// units of work (never mid-request) so in-flight requests always
// finish before the worker parks until resume or stop.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.pause:
		select {
		case <-g.resume:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return nil
	}
}
