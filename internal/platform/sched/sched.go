// Package sched gives every component a single owner for its timers.
//
// A Scheduler hands out delayed and periodic calls and cancels all of them
// on Stop. Calls scheduled before a Stop never run afterwards, even when
// their timer was already firing concurrently with Stop.
package sched

import (
	"sync"
	"time"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/clock"
)

// Scheduler owns a set of timers created through one Clock.
type Scheduler struct {
	clk clock.Clock

	mu     sync.Mutex
	gen    uint64
	nextID uint64
	timers map[uint64]*clock.Timer
}

// New constructs a Scheduler. A nil clock falls back to the real clock.
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{clk: clk, timers: make(map[uint64]*clock.Timer)}
}

// Clock returns the clock timers are created with.
func (s *Scheduler) Clock() clock.Clock { return s.clk }

// After runs fn once after d. The returned func cancels it.
func (s *Scheduler) After(d time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armLocked(s.gen, d, fn, false)
}

// Every runs fn every d until cancelled or until Stop.
func (s *Scheduler) Every(d time.Duration, fn func()) (cancel func()) {
	if d <= 0 {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armLocked(s.gen, d, fn, true)
}

func (s *Scheduler) armLocked(gen uint64, d time.Duration, fn func(), repeat bool) func() {
	if d <= 0 {
		d = time.Nanosecond
	}
	s.nextID++
	id := s.nextID

	var fire func()
	fire = func() {
		s.mu.Lock()
		if _, ok := s.timers[id]; !ok || s.gen != gen {
			s.mu.Unlock()
			return
		}
		if repeat {
			s.timers[id] = s.clk.AfterFunc(d, fire)
		} else {
			delete(s.timers, id)
		}
		s.mu.Unlock()

		fn()
	}
	s.timers[id] = s.clk.AfterFunc(d, fire)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
		}
	}
}

// Stop cancels every pending call. The Scheduler stays usable.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending reports the number of armed calls.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
