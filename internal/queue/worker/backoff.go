package worker

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff returns the delay before retry number attempt+1:
// 2s, 4s, 8s and so on, capped at five minutes, plus up to 250ms jitter.
func ExponentialBackoff(attempt int) time.Duration {
	base := 2 * time.Second
	capDelay := 5 * time.Minute

	if attempt < 0 {
		attempt = 0
	}

	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiple)

	if delay > capDelay || delay <= 0 {
		delay = capDelay
	}

	// jitter keeps retries from a relay outage from landing together
	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
