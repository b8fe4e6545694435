package backoff

import (
	"testing"
	"time"
)

func TestPolicy_ReconnectSequence(t *testing.T) {
	p := ReconnectPolicy()

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}
	for attempt, expected := range want {
		if got := p.Delay(attempt); got != expected {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, got, expected)
		}
		if p.Exhausted(attempt) {
			t.Errorf("attempt %d: budget should not be exhausted yet", attempt)
		}
	}
	if !p.Exhausted(5) {
		t.Error("budget should be exhausted after 5 attempts")
	}
}

func TestPolicy_DelayWithRand(t *testing.T) {
	tests := []struct {
		name        string
		policy      Policy
		attempt     int
		randomValue float64
		expected    time.Duration
	}{
		{
			name:     "negative attempt clamps to zero",
			policy:   Policy{BaseDelay: 100 * time.Millisecond, Factor: 2},
			attempt:  -3,
			expected: 100 * time.Millisecond,
		},
		{
			name:        "jitter widens delay",
			policy:      Policy{BaseDelay: 100 * time.Millisecond, Factor: 2, Jitter: 0.5},
			attempt:     0,
			randomValue: 1.0,
			expected:    150 * time.Millisecond,
		},
		{
			name:     "max delay caps growth",
			policy:   Policy{BaseDelay: time.Second, Factor: 2, MaxDelay: 3 * time.Second},
			attempt:  4,
			expected: 3 * time.Second,
		},
		{
			name:     "zero factor defaults to doubling",
			policy:   Policy{BaseDelay: time.Second},
			attempt:  2,
			expected: 4 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.DelayWithRand(tt.attempt, tt.randomValue); got != tt.expected {
				t.Errorf("delay = %v, want %v", got, tt.expected)
			}
		})
	}
}
