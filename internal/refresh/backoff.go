package refresh

import (
	"math"
	"time"
)

// Policy computes the wait between failed upstream attempts.
type Policy struct {
	Base time.Duration
	Cap  time.Duration
}

// NextDelay returns Base * 2^(attempt-1), capped at Cap. Attempts below 1 are
// treated as the first attempt.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		if p.Cap > 0 && d >= p.Cap {
			return p.Cap
		}
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

// waitFor picks the sleep before the next attempt. A server-requested
// retryAfter is honoured as a lower bound, still bounded by Cap.
func (p Policy) waitFor(attempt int, retryAfter time.Duration) time.Duration {
	d := p.NextDelay(attempt)
	if retryAfter > d {
		d = retryAfter
		if p.Cap > 0 && d > p.Cap {
			d = p.Cap
		}
	}
	return d
}
