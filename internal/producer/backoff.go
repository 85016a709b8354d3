package producer

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry waits after failed fetches.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff starts at one second and doubles up to the tick interval.
func DefaultBackoff(interval time.Duration) Backoff {
	return Backoff{
		Min:    time.Second,
		Max:    interval,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the wait before retry number attempt (1-based). The result
// never exceeds Max.
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	lo := b.Min
	if lo <= 0 {
		lo = 100 * time.Millisecond
	}
	hi := b.Max
	if hi <= 0 {
		hi = DefaultInterval
	}
	if lo > hi {
		lo = hi
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := lo
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > hi {
			wait = hi
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := min(b.Jitter, 1)
	delta := float64(wait) * jitter
	wait = wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
	return min(wait, hi)
}
