package runner

import "sync/atomic"

// current backs a process-wide accessor so user task code can reach the
// Runner without a context threaded all the way down. Application entry
// points should still prefer constructing a Runner and injecting it
// explicitly wherever practical; SetCurrent/Current exist for the cases
// where that isn't.
var current atomic.Pointer[Runner]

// SetCurrent publishes r as the process-wide Runner. Intended to be called
// once, by the application entry point, after constructing the Runner.
func SetCurrent(r *Runner) {
	current.Store(r)
}

// Current returns the process-wide Runner, or nil if SetCurrent has not
// been called yet. Never relies on module/package load ordering — it is
// only ever written by an explicit SetCurrent call.
func Current() *Runner {
	return current.Load()
}
