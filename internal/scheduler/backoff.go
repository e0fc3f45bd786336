package scheduler

import (
	"math"
	"math/rand"
	"time"
)

// backoff returns the retry delay for the given attempt (0-indexed):
// exponential growth from base, capped at maxDelay, with up to ±jitter
// fraction of randomness so synchronized retries spread out.
func backoff(base, maxDelay time.Duration, jitter float64, attempt int) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt))
	if m := float64(maxDelay); delay > m {
		delay = m
	}
	if jitter > 0 {
		delay += delay * jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
