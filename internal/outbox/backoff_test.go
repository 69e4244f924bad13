package outbox

import (
	"testing"
	"time"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	base := 30 * time.Second
	ceiling := time.Hour

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 1, want: 30 * time.Second},
		{attempts: 2, want: time.Minute},
		{attempts: 3, want: 2 * time.Minute},
		{attempts: 4, want: 4 * time.Minute},
		{attempts: 7, want: 32 * time.Minute},
		{attempts: 8, want: time.Hour},
		{attempts: 9, want: time.Hour},
		{attempts: 50, want: time.Hour},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempts, base, ceiling); got != tt.want {
			t.Fatalf("attempts=%d: expected %v, got %v", tt.attempts, tt.want, got)
		}
	}
}

func TestBackoffIsMonotonicAndBounded(t *testing.T) {
	base := time.Second
	ceiling := 10 * time.Minute

	previous := time.Duration(0)
	for attempts := 1; attempts <= 64; attempts++ {
		delay := Backoff(attempts, base, ceiling)
		if delay < previous {
			t.Fatalf("backoff decreased at attempts=%d: %v < %v", attempts, delay, previous)
		}
		if delay > ceiling {
			t.Fatalf("backoff exceeded ceiling at attempts=%d: %v", attempts, delay)
		}
		previous = delay
	}
}

func TestBackoffSubstitutesDefaults(t *testing.T) {
	if got := Backoff(1, 0, 0); got != DefaultBackoffBase {
		t.Fatalf("expected default base, got %v", got)
	}
	if got := Backoff(1000, 0, 0); got != DefaultBackoffCeiling {
		t.Fatalf("expected default ceiling, got %v", got)
	}
	if got := Backoff(0, time.Second, time.Minute); got != time.Second {
		t.Fatalf("attempts below one clamps to one base interval, got %v", got)
	}
}
