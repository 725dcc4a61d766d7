package queue

import (
	"time"
)

// MaxRetryDelay caps the exponential backoff
const MaxRetryDelay = 1 * time.Hour

// backoffDelay returns base * 2^(attempts-1): the first failure waits base,
// the second twice that, and so on.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 20 {
		return MaxRetryDelay
	}
	delay := base * (1 << (attempts - 1))
	if delay > MaxRetryDelay || delay <= 0 {
		delay = MaxRetryDelay
	}
	return delay
}
