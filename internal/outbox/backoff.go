package outbox

import "time"

// Default retry pacing: doubling delays starting at 30s, never beyond 1h.
const (
	DefaultBackoffBase    = 30 * time.Second
	DefaultBackoffCeiling = time.Hour
)

// Backoff returns the delay before the next delivery attempt. The first
// failure waits one base interval and every further failure doubles it, up
// to the ceiling. The result is non-decreasing in attempts.
func Backoff(attempts int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if ceiling <= 0 {
		ceiling = DefaultBackoffCeiling
	}
	if attempts < 1 {
		attempts = 1
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}
