package infra

import "time"

const (
	backoffBase = time.Second
	backoffMax  = 2 * time.Minute
)

// Backoff returns the exponential reconnect delay for the given attempt,
// capped at backoffMax.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		return backoffBase
	}
	// 1<<attempt overflows long before the cap matters.
	if attempt > 20 {
		return backoffMax
	}
	d := backoffBase * time.Duration(1<<attempt)
	if d > backoffMax {
		return backoffMax
	}
	return d
}
