// Package backoff holds the restart delay schedule for crashed encoders.
package backoff

import "time"

// MaxRetries is the number of automatic restarts allowed after consecutive
// crashes before the supervisor gives up.
const MaxRetries = 3

// Policy maps a consecutive-failure count to a wait.
type Policy struct {
	Delays     []time.Duration
	MaxRetries int
}

// Default waits 30s, 60s, then 120s for every later attempt.
func Default() Policy {
	return Policy{
		Delays:     []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second},
		MaxRetries: MaxRetries,
	}
}

// Next returns the wait before retry attempt n, counted from zero. Negative
// counts clamp to the first delay, and counts past the table repeat the cap.
func (p Policy) Next(n int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if n < 0 {
		n = 0
	}
	if n >= len(p.Delays) {
		n = len(p.Delays) - 1
	}
	return p.Delays[n]
}

// Allowed reports whether a failure that brought the consecutive count to
// retryCount may still be retried.
func (p Policy) Allowed(retryCount int) bool {
	return retryCount >= 1 && retryCount <= p.MaxRetries
}

// NextDelay is Default().Next(retryCount).
func NextDelay(retryCount int) time.Duration { return Default().Next(retryCount) }
