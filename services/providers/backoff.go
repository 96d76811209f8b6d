package providers

import (
	"math"
	"math/rand"
	"time"
)

// MaxBackoff caps the delay between retries
const MaxBackoff = 30 * time.Second

// Backoff returns the delay before retry attempt (1-based) using
// exponential growth from base with +/-25% jitter, capped at MaxBackoff.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt <= 0 {
		return 0
	}

	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(MaxBackoff) {
		delay = float64(MaxBackoff)
	}

	jitter := delay * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(delay + jitter)
}
