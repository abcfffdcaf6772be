// Package swarm provides the adaptive worker pool used for fan-out against
// external backends whose transient-error rate should govern concurrency.
// Both the AIMD controller and the channel-plus-ticker worker loop are
// adapted directly from the teacher's internal/swarm package; the feedback
// signal is repurposed from AWS throttling responses to this engine's own
// BackendTransient classification. It is wired into
// pkg/engine/adapters.ReconRegistry/ExfilRegistry's source fan-out, where
// concurrency genuinely needs to float with how many sources are healthy.
// The Recon State Store and File Context Provider's own per-call timeout
// and backoff retry (reconstore/retry.go, filecontext/retry.go) cover §5's
// bound on those calls directly rather than through this pool: each one is
// a single backend behind a narrow interface, not a fan-out of independently
// failing sources, so there is no concurrency signal here for AIMD to adapt.
package swarm

import (
	"sync"
	"time"
)

// AIMD implements additive-increase/multiplicative-decrease concurrency
// control: +5 workers when the last task was fast and clean, halved
// (floored at minWorkers) the moment a transient backend error is seen.
type AIMD struct {
	mu          sync.Mutex
	concurrency int
	minWorkers  int
	maxWorkers  int
	lastChange  time.Time
}

// NewAIMD creates a controller starting at start workers, bounded to
// [min, max].
func NewAIMD(start, min, max int) *AIMD {
	if start < min {
		start = min
	}
	if start > max {
		start = max
	}
	return &AIMD{concurrency: start, minWorkers: min, maxWorkers: max}
}

// GetConcurrency returns the current target worker count.
func (a *AIMD) GetConcurrency() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.concurrency
}

// Feedback reports the outcome of one unit of work: its latency, and
// whether it failed with a transient backend error. Adjustments are rate
// limited to once per 100ms to avoid oscillation under bursty feedback.
func (a *AIMD) Feedback(latency time.Duration, transientErr bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if now.Sub(a.lastChange) < 100*time.Millisecond {
		return
	}

	if transientErr {
		a.concurrency /= 2
		if a.concurrency < a.minWorkers {
			a.concurrency = a.minWorkers
		}
		a.lastChange = now
		return
	}

	if latency < 100*time.Millisecond {
		a.concurrency += 5
		if a.concurrency > a.maxWorkers {
			a.concurrency = a.maxWorkers
		}
		a.lastChange = now
	}
}
