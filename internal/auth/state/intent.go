package state

import (
	"sync"
	"time"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/clock"
)

// DefaultIntentTTL bounds how long a user-initiated logout suppresses
// revocation notices.
const DefaultIntentTTL = 10 * time.Second

// LogoutIntent marks that this tab is about to log out on the user's request.
// It is consumed by the first revocation notice that observes it.
type LogoutIntent struct {
	clk clock.Clock
	ttl time.Duration

	mu       sync.Mutex
	markedAt time.Time
	marked   bool
}

// NewLogoutIntent constructs an intent flag. ttl <= 0 uses DefaultIntentTTL.
func NewLogoutIntent(clk clock.Clock, ttl time.Duration) *LogoutIntent {
	if clk == nil {
		clk = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultIntentTTL
	}
	return &LogoutIntent{clk: clk, ttl: ttl}
}

// Mark sets the flag.
func (i *LogoutIntent) Mark() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.marked = true
	i.markedAt = i.clk.Now()
}

// Consume reports whether the flag was set and not yet expired, and clears it.
func (i *LogoutIntent) Consume() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.marked {
		return false
	}
	i.marked = false
	return i.clk.Now().Sub(i.markedAt) < i.ttl
}

// Clear drops the flag without consuming it.
func (i *LogoutIntent) Clear() {
	i.mu.Lock()
	i.marked = false
	i.mu.Unlock()
}
