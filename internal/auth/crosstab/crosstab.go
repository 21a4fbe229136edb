// Package crosstab reacts to session storage changes made by sibling tabs.
package crosstab

import (
	"log/slog"
	"sync"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/auth/logout"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/storage"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/ui"
)

// Pattern is what a change means for this tab.
type Pattern int

const (
	PatternNone Pattern = iota
	// PatternTokenRemoved: another tab logged out.
	PatternTokenRemoved
	// PatternUserRemoved: another tab dropped the user record.
	PatternUserRemoved
	// PatternCleared: another tab cleared the whole store.
	PatternCleared
	// PatternTokenReplaced: a new login happened elsewhere.
	PatternTokenReplaced
)

func (p Pattern) String() string {
	switch p {
	case PatternTokenRemoved:
		return "token_removed"
	case PatternUserRemoved:
		return "user_removed"
	case PatternCleared:
		return "cleared"
	case PatternTokenReplaced:
		return "token_replaced"
	default:
		return "none"
	}
}

// Messages.
const (
	MsgLoggedOutElsewhere = "You were signed out in another tab."
	MsgClearedElsewhere   = "Session data was cleared in another tab. Please sign in again."
	MsgLoginElsewhere     = "A new sign-in happened in another tab."
)

// Classify maps one change to a Pattern.
func Classify(c storage.Change) Pattern {
	if c.Cleared() {
		return PatternCleared
	}
	switch c.Key {
	case storage.KeyAccessToken:
		switch {
		case c.OldValue != "" && c.NewValue == "":
			return PatternTokenRemoved
		case c.OldValue != "" && c.NewValue != "" && c.OldValue != c.NewValue:
			return PatternTokenReplaced
		}
	case storage.KeyUser:
		if c.OldValue != "" && c.NewValue == "" {
			return PatternUserRemoved
		}
	}
	return PatternNone
}

// Watcher delivers changes made by other tabs.
type Watcher interface {
	Watch(fn func(storage.Change)) (stop func(), err error)
}

// Forcer schedules a forced logout.
type Forcer interface {
	Force(reason string, level ui.Level, msg string) bool
}

type Config struct {
	Watcher Watcher
	Forcer  Forcer
	Toaster ui.Toaster
	Log     *slog.Logger
}

// Synchronizer listens while the tab is authenticated.
type Synchronizer struct {
	cfg Config

	mu     sync.Mutex
	active bool
	stop   func()
}

func New(cfg Config) *Synchronizer {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Synchronizer{cfg: cfg}
}

// Start registers the storage listener. It is a no-op when already started.
func (s *Synchronizer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}
	stop, err := s.cfg.Watcher.Watch(s.handle)
	if err != nil {
		return err
	}
	s.active = true
	s.stop = stop
	s.cfg.Log.Debug("crosstab.start")
	return nil
}

// Stop removes the listener.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	stop := s.stop
	wasActive := s.active
	s.active = false
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if wasActive {
		s.cfg.Log.Debug("crosstab.stop")
	}
}

func (s *Synchronizer) handle(c storage.Change) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return
	}

	p := Classify(c)
	if p == PatternNone {
		return
	}
	s.cfg.Log.Info("crosstab.change", "pattern", p.String(), "key", c.Key, "origin", c.Origin)

	switch p {
	case PatternTokenRemoved, PatternUserRemoved:
		s.cfg.Forcer.Force(logout.ReasonCrossTabLogout, ui.LevelWarn, MsgLoggedOutElsewhere)
	case PatternCleared:
		s.cfg.Forcer.Force(logout.ReasonCrossTabClear, ui.LevelWarn, MsgClearedElsewhere)
	case PatternTokenReplaced:
		if s.cfg.Toaster != nil {
			s.cfg.Toaster.Toast(ui.LevelInfo, MsgLoginElsewhere)
		}
	}
}
