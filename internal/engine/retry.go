package engine

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy computes how long a mutation waits before its next push
// attempt after a transient failure.
type RetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter is the randomization factor in [0, 1]. Zero gives exact
	// doubling delays.
	Jitter float64
}

// DefaultRetryPolicy doubles from one second up to five minutes with 20%
// jitter.
var DefaultRetryPolicy = RetryPolicy{
	Initial: time.Second,
	Max:     5 * time.Minute,
	Jitter:  0.2,
}

// Delay returns the wait after the given failed attempt (1 for the first
// failure).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: p.Jitter,
		Multiplier:          2,
		MaxInterval:         p.Max,
	}
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
