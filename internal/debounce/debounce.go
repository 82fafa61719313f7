// Package debounce provides a trailing debounce primitive.
//
// Schedule replaces any pending call with a new one that fires after delay,
// so a burst of triggers collapses into one execution after the burst ends.
// The scheduled function reads whatever state is current when it fires; only
// the triggering is delayed.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs at most one pending function at a time.
type Debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	fn    func()
	gen   uint64
}

// New returns an idle Debouncer.
func New() *Debouncer {
	return &Debouncer{}
}

// Schedule cancels any pending call and schedules fn to run after delay on
// its own goroutine.
func (d *Debouncer) Schedule(fn func(), delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.fn = fn
	d.timer = time.AfterFunc(delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.fn == nil {
		// Superseded or cancelled after the timer already fired.
		d.mu.Unlock()
		return
	}
	fn := d.fn
	d.fn = nil
	d.timer = nil
	d.mu.Unlock()

	fn()
}

// Cancel drops the pending call, if any, and reports whether one existed.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := d.fn != nil
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.fn = nil
	d.timer = nil
	return pending
}

// Flush runs the pending call immediately on the calling goroutine and
// reports whether there was one.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	fn := d.fn
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.fn = nil
	d.timer = nil
	d.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}
