// Package pace provides the delivery pacer: a single-slot timer that fires a
// callback no sooner than a fixed interval, enforcing the legacy sink's
// maximum ingest cadence.
package pace

import (
	"sync"
	"time"
)

// Pacer schedules at most one pending callback at a time, each firing after
// at least the configured interval. It carries no other state.
type Pacer struct {
	interval time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// New creates a Pacer with the given minimum inter-fire interval.
func New(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Arm schedules fn to run after at least the pacing interval. If a callback
// is already pending it is replaced, so at most one fire is ever outstanding.
func (p *Pacer) Arm(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.interval, fn)
}

// Stop cancels any pending callback. A callback already executing is not
// interrupted.
func (p *Pacer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
