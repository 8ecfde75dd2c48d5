package ratelimit

import (
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// RetryJitter is slept before re-running a failed source download so that
// concurrent jobs hitting the same upstream do not retry in lockstep.
func RetryJitter() time.Duration {
	const (
		from = 1
		to   = 3
	)
	millis := (rand.IntN(to-from)+from)*1000 + rand.N(1000) //nolint:gosec

	return time.Duration(millis) * time.Millisecond
}

// NewCatalogLimiter allows rps requests per second with a burst of the same
// size, never less than one.
func NewCatalogLimiter(rps float64) *rate.Limiter {
	burst := max(int(rps), 1)

	return rate.NewLimiter(rate.Limit(rps), burst)
}
