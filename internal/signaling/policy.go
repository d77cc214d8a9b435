package signaling

import (
	"math"
	"time"
)

// ReconnectPolicy is the relay backoff schedule: the n-th reconnect waits
// BaseInterval * 2^n, and no reconnect is attempted once n reaches
// MaxAttempts.
type ReconnectPolicy struct {
	BaseInterval time.Duration
	MaxAttempts  int
}

// DefaultReconnectPolicy returns a 2s base with five attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{BaseInterval: 2 * time.Second, MaxAttempts: 5}
}

// Delay returns the wait before reconnect number attempt (zero-based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	d := p.BaseInterval
	for i := 0; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	return d
}

// Exhausted reports whether no further reconnect may be scheduled.
func (p ReconnectPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
