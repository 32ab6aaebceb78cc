package delivery

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultBackoffBase   = time.Second
	DefaultBackoffMax    = time.Hour
	DefaultBackoffJitter = 0.2
)

// Backoff computes retry delays: min(2^attempt * Base * (1 ± Jitter), Max).
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// rand returns a value in [0, 1).
	rand func() float64
}

func NewBackoff(base, max time.Duration, jitter float64) Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if jitter < 0 || jitter >= 1 {
		jitter = DefaultBackoffJitter
	}
	return Backoff{Base: base, Max: max, Jitter: jitter, rand: rand.Float64}
}

// Delay returns the wait before retrying a delivery whose attempt number
// attempt just failed. Attempt 1 waits about 2*Base.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 62 {
		return b.Max
	}
	d := float64(b.Base) * float64(uint64(1)<<uint(attempt))
	if b.Jitter > 0 {
		r := 0.5
		if b.rand != nil {
			r = b.rand()
		}
		d *= 1 + b.Jitter*(2*r-1)
	}
	if d >= float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}
