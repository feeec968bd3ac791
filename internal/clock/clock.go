// Package clock provides an injectable time source so job-queue logic can
// be driven deterministically in tests instead of depending on wall time.
package clock

import "time"

// Clock is the time source consumed throughout the scheduler core.
type Clock interface {
	// Now returns the current UTC instant.
	Now() time.Time
	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time
	// Sleep blocks the calling goroutine for d.
	Sleep(d time.Duration)
}

// System is the default Clock backed by the real wall clock.
type System struct{}

var _ Clock = System{}

func (System) Now() time.Time                         { return time.Now().UTC() }
func (System) After(d time.Duration) <-chan time.Time  { return time.After(d) }
func (System) Sleep(d time.Duration)                   { time.Sleep(d) }
