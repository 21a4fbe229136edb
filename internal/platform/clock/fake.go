package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a deterministic Clock. Time only moves when Advance is called;
// AfterFunc callbacks run synchronously inside Advance in deadline order.
//
// Do not call Advance from inside an AfterFunc callback.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
	callback func()
	interval time.Duration
	stopped  bool
	fired    bool
}

// NewFake returns a Fake clock set to initial.
func NewFake(initial time.Time) *Fake {
	return &Fake{current: initial}
}

// Now returns the current fake time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock advances past d.
func (c *Fake) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, &fakeWaiter{deadline: c.current.Add(d), channel: ch})
	return ch
}

// AfterFunc schedules f to run during the Advance call that crosses d.
func (c *Fake) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.stopped || w.fired {
			return false
		}
		w.stopped = true
		return true
	}}
}

// NewTicker returns a ticker that fires once per interval crossed by Advance.
func (c *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &fakeWaiter{deadline: c.current.Add(d), channel: ch, interval: d}
	c.waiters = append(c.waiters, w)

	return &Ticker{C: ch, stopFunc: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		w.stopped = true
	}}
}

// Pending reports how many timers and tickers are still armed.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and fires everything that became due.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		due := c.collectDue(target)
		if len(due) == 0 {
			return
		}
		for _, w := range due {
			if w.callback != nil {
				w.callback()
				continue
			}
			select {
			case w.channel <- target:
			default:
			}
		}
	}
}

func (c *Fake) collectDue(target time.Time) []*fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, remaining []*fakeWaiter
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		if !w.deadline.After(target) {
			due = append(due, w)
		} else {
			remaining = append(remaining, w)
		}
	}

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })

	for _, w := range due {
		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
			remaining = append(remaining, w)
			continue
		}
		w.fired = true
	}
	c.waiters = remaining
	return due
}
