// Package clock abstracts time so that schedulers, rate limits and delayed
// logouts can be driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package used by the session core.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f after d. The returned Timer cancels the call.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a cancellable pending call created by AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. It reports whether the call was stopped
// before it fired.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Ticker delivers ticks on C until Stop is called. C is never closed.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker.
func (t *Ticker) Stop() {
	if t == nil || t.stopFunc == nil {
		return
	}
	t.stopFunc()
}
