package bootstrap

import "sync/atomic"

// Readiness is the one-way flag flipped when bootstrap completes. The
// status server reads it; within a generation nothing clears it. Only
// the supervisor resets it when it tears a generation down for a
// restart.
type Readiness struct {
	ready atomic.Bool
}

// Set marks the process ready.
func (r *Readiness) Set() { r.ready.Store(true) }

// Reset clears the flag at a generation boundary.
func (r *Readiness) Reset() { r.ready.Store(false) }

// Ready reports whether bootstrap has completed.
func (r *Readiness) Ready() bool { return r.ready.Load() }
