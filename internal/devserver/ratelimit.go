package devserver

import (
	"sync"
	"time"
)

// rateLimiter is a per-connection sliding-window limiter.
type rateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit <= 0 {
		limit = defaultRateEvents
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &rateLimiter{events: make([]time.Time, 0, limit+8), limit: limit, window: window}
}

// allow records an event at now unless the window is already full.
func (r *rateLimiter) allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	kept := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	r.events = kept

	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}
