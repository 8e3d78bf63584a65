package pool

import (
	"math"
	"math/rand"
	"time"
)

// backoffDelay computes min(base * multiplier^attempt, max) perturbed by
// ±jitterFraction, so many devices recovering at once do not retry in
// lockstep.
func backoffDelay(base time.Duration, multiplier float64, maxDelay time.Duration, attempt int, jitterFraction float64, rng *rand.Rand) time.Duration {
	delay := time.Duration(float64(base) * math.Pow(multiplier, float64(attempt)))
	if delay > maxDelay {
		delay = maxDelay
	}

	if jitterFraction <= 0 {
		return delay
	}

	// Uniform in [-jitterFraction, +jitterFraction].
	jitter := (rng.Float64()*2 - 1) * jitterFraction

	return time.Duration(float64(delay) * (1 + jitter))
}
