package analyzer

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryDelay computes the exponential-backoff-with-full-jitter delay for
// the given attempt (1-based) from the configured base delay, per
// spec.md §4.4. Uses github.com/cenkalti/backoff/v4 the same way
// internal/queue's retryDelay does, so the module has one backoff idiom
// rather than a hand-rolled scheme per package.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2.0
	b.RandomizationFactor = 1.0
	b.MaxInterval = 10 * time.Minute

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d <= 0 {
		d = b.MaxInterval
	}
	return d
}
