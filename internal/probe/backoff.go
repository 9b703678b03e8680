package probe

import "time"

// Backoff yields the delays between retries of one candidate: the initial
// delay first, then doubling, never above the cap.
type Backoff struct {
	next time.Duration
	max  time.Duration
}

// NewBackoff returns a schedule starting at initial and capped at maxDelay.
// A cap below initial is raised to initial.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	initial = max(initial, 0)
	return &Backoff{next: initial, max: max(maxDelay, initial)}
}

// Next returns the current delay and advances the schedule.
func (b *Backoff) Next() time.Duration {
	d := min(b.next, b.max)
	if b.next < b.max {
		b.next *= 2
	}
	return d
}
