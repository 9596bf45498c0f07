package client

import "time"

// Backoff is the reconnect policy: the n-th consecutive reconnect (counting
// from zero) waits min(Base·2ⁿ, Max), and no more than MaxAttempts are
// scheduled before an explicit Connect.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before reconnect number attempts.
func (b Backoff) Delay(attempts int) time.Duration {
	d := b.Base
	for range attempts {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	return min(d, b.Max)
}

// Exhausted reports whether another reconnect may be scheduled.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
