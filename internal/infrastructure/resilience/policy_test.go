package resilience

import (
	"testing"
	"time"
)

func TestPollPolicyFixedDelayByDefault(t *testing.T) {
	policy := PollPolicy{MaxAttempts: 5, Interval: 10 * time.Second}.Normalize()
	for attempt := 1; attempt <= 5; attempt++ {
		if got := policy.Delay(attempt); got != 10*time.Second {
			t.Fatalf("Delay(%d) = %s, want 10s", attempt, got)
		}
	}
}

func TestPollPolicyBackoffIsCapped(t *testing.T) {
	policy := PollPolicy{MaxAttempts: 10, Interval: time.Second, Multiplier: 2, MaxInterval: 5 * time.Second}.Normalize()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, expected := range want {
		if got := policy.Delay(i + 1); got != expected {
			t.Fatalf("Delay(%d) = %s, want %s", i+1, got, expected)
		}
	}
}

func TestPollPolicyNormalizeAppliesDefaults(t *testing.T) {
	policy := PollPolicy{}.Normalize()
	if policy.MaxAttempts != 60 {
		t.Fatalf("expected 60 attempts, got %d", policy.MaxAttempts)
	}
	if policy.Interval != 10*time.Second {
		t.Fatalf("expected 10s interval, got %s", policy.Interval)
	}
}
