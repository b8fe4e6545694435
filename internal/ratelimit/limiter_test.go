package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestLimiter_WindowBoundary(t *testing.T) {
	l := NewLimiter(Config{Max: 5, Window: 60 * time.Second, Enabled: true})
	now := time.Unix(1000, 0)
	l.SetNowFunc(func() time.Time { return now })

	// The 5th call within the window succeeds.
	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("user-1")
		if !ok {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	// The 6th fails and reports the window reset.
	ok, retryAfter := l.Allow("user-1")
	if ok {
		t.Fatal("6th call within window should be denied")
	}
	if retryAfter <= 0 || retryAfter > 60*time.Second {
		t.Errorf("retryAfter = %v, want within (0, 60s]", retryAfter)
	}

	// After the window elapses, a new call succeeds again.
	now = now.Add(61 * time.Second)
	if ok, _ := l.Allow("user-1"); !ok {
		t.Fatal("call after window elapsed should be allowed")
	}
}

func TestLimiter_KeysIndependent(t *testing.T) {
	l := NewLimiter(Config{Max: 1, Window: time.Minute, Enabled: true})
	if ok, _ := l.Allow("a"); !ok {
		t.Fatal("first call for a")
	}
	if ok, _ := l.Allow("b"); !ok {
		t.Fatal("first call for b must not share a's counter")
	}
	if ok, _ := l.Allow("a"); ok {
		t.Fatal("second call for a should be denied")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(Config{Max: 1, Window: time.Minute, Enabled: false})
	for i := 0; i < 10; i++ {
		if ok, _ := l.Allow("k"); !ok {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l := NewLimiter(Config{Max: 5, Window: time.Minute, Enabled: true})
	now := time.Unix(1000, 0)
	l.SetNowFunc(func() time.Time { return now })

	for i := 0; i < 10; i++ {
		l.Allow(fmt.Sprintf("key-%d", i))
	}
	if got := l.Len(); got != 10 {
		t.Fatalf("tracked keys = %d, want 10", got)
	}

	// Nothing expired yet.
	if removed := l.Sweep(now); removed != 0 {
		t.Errorf("premature sweep removed %d", removed)
	}

	removed := l.Sweep(now.Add(2 * time.Minute))
	if removed != 10 {
		t.Errorf("sweep removed %d, want 10", removed)
	}
	if got := l.Len(); got != 0 {
		t.Errorf("tracked keys after sweep = %d, want 0", got)
	}
}

func TestLimiter_Reset(t *testing.T) {
	l := NewLimiter(Config{Max: 1, Window: time.Minute, Enabled: true})
	l.Allow("k")
	if ok, _ := l.Allow("k"); ok {
		t.Fatal("should be denied")
	}
	l.Reset("k")
	if ok, _ := l.Allow("k"); !ok {
		t.Fatal("should be allowed after reset")
	}
}
