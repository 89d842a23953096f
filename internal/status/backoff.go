package status

import (
	"math"
	"time"
)

// Policy computes retry delays for both the stream reconnect loop and the
// polling fallback. It is a pure function of the attempt number so the two
// paths stay predictable and testable in isolation; jitter is deliberately
// left out.
type Policy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewPolicy builds a Policy, substituting defaults for non-positive values.
func NewPolicy(base, cap time.Duration) Policy {
	if base <= 0 {
		base = 2 * time.Second
	}
	if cap <= 0 {
		cap = 16 * time.Second
	}
	return Policy{baseDelay: base, maxDelay: cap}
}

// DefaultPolicy returns the 2s/4s/8s/16s schedule used across the client.
func DefaultPolicy() Policy {
	return NewPolicy(2*time.Second, 16*time.Second)
}

// Delay returns min(base * 2^attempt, cap). Attempt numbering starts at 0.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.maxDelay) || math.IsInf(d, 1) {
		return p.maxDelay
	}
	return time.Duration(d)
}
