package refresh

import (
	"testing"
	"time"
)

func TestPolicyNextDelay(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Cap: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 2 * time.Second},
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // 32s capped
		{6, 30 * time.Second},
		{64, 30 * time.Second},
		{1000, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := p.NextDelay(tt.attempt); got != tt.want {
			t.Errorf("NextDelay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicyNextDelayMonotonic(t *testing.T) {
	p := Policy{Base: 3 * time.Millisecond, Cap: time.Second}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 80; attempt++ {
		d := p.NextDelay(attempt)
		if d < prev {
			t.Fatalf("NextDelay(%d) = %s is smaller than previous %s", attempt, d, prev)
		}
		if d > p.Cap {
			t.Fatalf("NextDelay(%d) = %s exceeds cap %s", attempt, d, p.Cap)
		}
		prev = d
	}
}

func TestPolicyWaitForRetryAfter(t *testing.T) {
	p := Policy{Base: time.Second, Cap: 10 * time.Second}

	tests := []struct {
		name       string
		attempt    int
		retryAfter time.Duration
		want       time.Duration
	}{
		{"no header", 2, 0, 2 * time.Second},
		{"shorter than backoff", 3, time.Second, 4 * time.Second},
		{"longer than backoff", 1, 5 * time.Second, 5 * time.Second},
		{"capped", 1, time.Minute, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.waitFor(tt.attempt, tt.retryAfter); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
