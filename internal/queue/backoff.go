package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryDelay returns the backoff delay for the given retry attempt
// (1-based); Fail adds it to now to set the "backoff-delayed lease" of
// spec.md §4.5.
// cenkalti/backoff/v4's ExponentialBackOff with RandomizationFactor 1.0
// approximates full jitter (interval uniformly drawn from
// [0, 2×nominal]) rather than a hand-rolled math/rand scheme, since
// cenkalti/backoff/v4 is already the module's retry/backoff dependency
// (also used by internal/analyzer's subprocess retry loop).
func retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 30 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 1.0
	b.MaxInterval = 30 * time.Minute

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d <= 0 {
		d = b.MaxInterval
	}
	return d
}
