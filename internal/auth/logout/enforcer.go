// Package logout owns the forced-logout flow shared by the session monitor,
// the cross-tab synchronizer and the event coordinator.
//
// Every forced logout shows its message first, then after a short fixed
// delay clears the local state and navigates to login. While one is pending,
// further requests are coalesced into it.
package logout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/metrics"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/sched"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/ui"
)

// DefaultDelay leaves the message on screen before the tab navigates away.
const DefaultDelay = time.Second

// Reasons label forced logouts in logs and metrics.
const (
	ReasonSessionInvalid = "session_invalid"
	ReasonSessionRevoked = "session_revoked"
	ReasonCrossTabLogout = "cross_tab_logout"
	ReasonCrossTabClear  = "cross_tab_clear"
)

// LocalState is the part of the auth container the enforcer drives.
type LocalState interface {
	Logout(ctx context.Context) error
}

type Config struct {
	State     LocalState
	Toaster   ui.Toaster
	Navigator ui.Navigator
	Scheduler *sched.Scheduler
	Delay     time.Duration
	Timeout   time.Duration
	Log       *slog.Logger
	Metrics   *metrics.Metrics
}

type Enforcer struct {
	cfg Config

	mu      sync.Mutex
	pending bool
	reason  string
	cancel  func()
}

func New(cfg Config) *Enforcer {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = sched.New(nil)
	}
	return &Enforcer{cfg: cfg}
}

// Force shows msg and schedules the logout. It reports false when a forced
// logout is already pending; in that case nothing is shown.
func (e *Enforcer) Force(reason string, level ui.Level, msg string) bool {
	e.mu.Lock()
	if e.pending {
		e.mu.Unlock()
		e.cfg.Log.Debug("logout.force.coalesced", "reason", reason, "pending_reason", e.reason)
		return false
	}
	e.pending = true
	e.reason = reason
	e.cancel = e.cfg.Scheduler.After(e.cfg.Delay, func() { e.fire(reason) })
	e.mu.Unlock()

	e.cfg.Log.Info("logout.force", "reason", reason)
	if e.cfg.Toaster != nil {
		e.cfg.Toaster.Toast(level, msg)
	}
	return true
}

// Pending reports whether a forced logout is scheduled.
func (e *Enforcer) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// Reset cancels a scheduled logout.
func (e *Enforcer) Reset() {
	e.mu.Lock()
	cancel := e.cancel
	e.pending = false
	e.reason = ""
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (e *Enforcer) fire(reason string) {
	e.mu.Lock()
	if !e.pending {
		e.mu.Unlock()
		return
	}
	e.pending = false
	e.cancel = nil
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()

	if err := e.cfg.State.Logout(ctx); err != nil {
		e.cfg.Log.Warn("logout.force.state.fail", "reason", reason, "err", err)
	}
	e.cfg.Metrics.ForcedLogout(reason)
	if e.cfg.Navigator != nil {
		e.cfg.Navigator.ToLogin()
	}
}
