package agent

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("Kinga") {
			t.Fatalf("Allow returned false on call %d/3", i+1)
		}
	}
	if rl.Allow("Kinga") {
		t.Error("Allow returned true after the limit was exhausted")
	}
}

func TestRateLimiter_IndependentPerUser(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Allow("alice")
	if rl.Allow("alice") {
		t.Error("alice should be rate limited")
	}
	if !rl.Allow("bob") {
		t.Error("bob should not be rate limited")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Allow("U")
	now = now.Add(30 * time.Second)
	rl.Allow("U")
	if rl.Remaining("U") != 0 {
		t.Fatalf("Remaining = %d, want 0", rl.Remaining("U"))
	}

	// The first turn leaves the window.
	now = now.Add(31 * time.Second)
	if got := rl.Remaining("U"); got != 1 {
		t.Errorf("Remaining = %d, want 1", got)
	}
	if !rl.Allow("U") {
		t.Error("Allow after the window slid should succeed")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.limit != DefaultRateLimit || rl.window != time.Minute {
		t.Errorf("defaults = %d/%v", rl.limit, rl.window)
	}
	if got := rl.Remaining("nobody"); got != DefaultRateLimit {
		t.Errorf("Remaining = %d, want %d", got, DefaultRateLimit)
	}
}
