package agent

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of turns a user may start per window
	// when no explicit limit is configured.
	DefaultRateLimit = 20

	defaultRateWindow = time.Minute
)

// RateLimiter enforces a per-user sliding-window limit on conversation turns.
// It keeps the start times of the turns inside the current window and prunes
// stale ones on every call, so memory stays O(limit) per active user.
//
// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	turns  map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter returns a RateLimiter allowing at most limit turns per user
// within window. Non-positive values select DefaultRateLimit and one minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		turns:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// pruneLocked drops timestamps at or before the window start.
func (r *RateLimiter) pruneLocked(userID string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.turns[userID]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(r.turns, userID)
		return nil
	}
	r.turns[userID] = valid
	return valid
}

// Allow records a turn for userID and reports whether it is within quota.
func (r *RateLimiter) Allow(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.pruneLocked(userID, now)
	if len(valid) >= r.limit {
		return false
	}
	r.turns[userID] = append(valid, now)
	return true
}

// Remaining returns how many turns userID may still start in the current
// window.
func (r *RateLimiter) Remaining(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rem := r.limit - len(r.pruneLocked(userID, r.now()))
	if rem < 0 {
		return 0
	}
	return rem
}
