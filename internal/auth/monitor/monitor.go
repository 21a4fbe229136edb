// Package monitor periodically asks the server whether the tab's session is
// still valid and forces a logout when it is not.
//
// Checks are triggered by a poll timer and by visibility and focus signals.
// At most one check is in flight; triggers that arrive while one is in
// flight, or within MinInterval of the previous check, are dropped.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/api"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/auth/logout"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/metrics"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/clock"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/sched"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/ui"
)

const (
	DefaultPollInterval = 60 * time.Second
	DefaultMinInterval  = 10 * time.Second
	DefaultInitialDelay = 3 * time.Second
	DefaultCallTimeout  = 15 * time.Second
)

// Trigger sources.
const (
	TriggerInitial = "initial"
	TriggerPoll    = "poll"
	TriggerVisible = "visible"
	TriggerFocus   = "focus"
)

// MsgSessionInvalid is shown before a forced logout.
const MsgSessionInvalid = "Your session has ended. Please sign in again."

// Outcome is the result of one Check.
type Outcome string

const (
	OutcomeInactive     Outcome = "inactive"
	OutcomeBusy         Outcome = "busy"
	OutcomeThrottled    Outcome = "throttled"
	OutcomeValid        Outcome = "valid"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeDeferred     Outcome = "deferred"
	OutcomeInconclusive Outcome = "inconclusive"
)

// Validator asks the server about the current session.
type Validator interface {
	ValidateSession(ctx context.Context) (api.Validation, error)
}

// Forcer schedules a forced logout.
type Forcer interface {
	Force(reason string, level ui.Level, msg string) bool
}

type Config struct {
	Validator Validator
	Forcer    Forcer
	Clock     clock.Clock

	PollInterval time.Duration
	MinInterval  time.Duration
	InitialDelay time.Duration
	CallTimeout  time.Duration

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// ValidationState is the per-tab guard for validation calls.
type ValidationState struct {
	IsValidating  bool
	LastCheckedAt time.Time
}

type Monitor struct {
	cfg   Config
	sched *sched.Scheduler

	mu             sync.Mutex
	running        bool
	gen            uint64
	state          ValidationState
	inflightCancel context.CancelFunc
	idle           chan struct{} // closed when the in-flight call returns

	wg sync.WaitGroup
}

func New(cfg Config) *Monitor {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	} else if cfg.MinInterval == 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Monitor{cfg: cfg, sched: sched.New(cfg.Clock)}
}

// Start arms the initial check and the poll timer. It is a no-op when the
// monitor is already running.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.gen++
	m.state = ValidationState{}
	m.idle = nil
	m.mu.Unlock()

	m.sched.After(m.cfg.InitialDelay, func() { m.Check(context.Background(), TriggerInitial) })
	m.sched.Every(m.cfg.PollInterval, func() { m.Check(context.Background(), TriggerPoll) })
	m.cfg.Log.Debug("monitor.start", "poll", m.cfg.PollInterval, "initial_delay", m.cfg.InitialDelay)
}

// Stop cancels every timer and any in-flight call. A result that arrives
// after Stop is discarded.
func (m *Monitor) Stop() {
	m.mu.Lock()
	wasRunning := m.running
	m.running = false
	m.gen++
	cancel := m.inflightCancel
	m.inflightCancel = nil
	m.mu.Unlock()

	m.sched.Stop()
	if cancel != nil {
		cancel()
	}
	if wasRunning {
		m.cfg.Log.Debug("monitor.stop")
	}
}

// Running reports whether the monitor is started.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// State returns a copy of the validation guard.
func (m *Monitor) State() ValidationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Signal handles a host lifecycle signal without blocking the caller.
func (m *Monitor) Signal(sig ui.Signal) {
	var trigger string
	switch sig {
	case ui.SignalVisible:
		trigger = TriggerVisible
	case ui.SignalFocus:
		trigger = TriggerFocus
	default:
		return
	}
	if !m.Running() {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Check(context.Background(), trigger)
	}()
}

// Wait blocks until every check started by Signal has returned.
func (m *Monitor) Wait() { m.wg.Wait() }

// Check runs one guarded validation and acts on its result.
func (m *Monitor) Check(ctx context.Context, trigger string) Outcome {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return OutcomeInactive
	}
	if m.state.IsValidating {
		m.mu.Unlock()
		m.cfg.Log.Debug("monitor.check.busy", "trigger", trigger)
		return OutcomeBusy
	}
	now := m.cfg.Clock.Now()
	if !m.state.LastCheckedAt.IsZero() && now.Sub(m.state.LastCheckedAt) < m.cfg.MinInterval {
		m.mu.Unlock()
		m.cfg.Log.Debug("monitor.check.throttled", "trigger", trigger)
		return OutcomeThrottled
	}
	gen, idle := m.beginLocked(now)
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	m.inflightCancel = cancel
	m.mu.Unlock()

	v, err := m.cfg.Validator.ValidateSession(callCtx)
	cancel()

	stale := m.finish(gen, idle)

	if stale {
		m.cfg.Log.Debug("monitor.check.stale", "trigger", trigger)
		return OutcomeInactive
	}

	outcome := m.classify(v, err)
	m.cfg.Metrics.Validation(string(outcome))

	switch outcome {
	case OutcomeValid:
		m.cfg.Log.Debug("monitor.check.valid", "trigger", trigger)
	case OutcomeDeferred:
		m.cfg.Log.Debug("monitor.check.auth_rejected", "trigger", trigger, "err", err)
	case OutcomeInconclusive:
		m.cfg.Log.Warn("monitor.check.fail", "trigger", trigger, "kind", api.KindOf(err), "err", err)
	case OutcomeInvalid:
		m.cfg.Log.Info("monitor.check.invalid", "trigger", trigger, "reason", v.Reason)
		m.cfg.Forcer.Force(logout.ReasonSessionInvalid, ui.LevelError, MsgSessionInvalid)
	}
	return outcome
}

// ValidateSession asks the server about the session outside the poll
// schedule, for callers that must not lose a trigger. It ignores the rate
// limit, but waits for a check already in flight and then makes its own call,
// so the tab never has two validations outstanding. The caller acts on the
// result.
func (m *Monitor) ValidateSession(ctx context.Context) (api.Validation, error) {
	m.mu.Lock()
	for m.state.IsValidating {
		idle := m.idle
		m.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return api.Validation{}, ctx.Err()
		}
		m.mu.Lock()
	}
	gen, idle := m.beginLocked(m.cfg.Clock.Now())
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	v, err := m.cfg.Validator.ValidateSession(callCtx)
	m.finish(gen, idle)
	return v, err
}

// beginLocked marks a call in flight. m.mu must be held.
func (m *Monitor) beginLocked(now time.Time) (uint64, chan struct{}) {
	m.state.IsValidating = true
	m.state.LastCheckedAt = now
	m.idle = make(chan struct{})
	return m.gen, m.idle
}

// finish releases the in-flight guard if it still belongs to the call that
// took it, and reports whether a Stop or Start happened meanwhile.
func (m *Monitor) finish(gen uint64, idle chan struct{}) (stale bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	close(idle)
	if m.idle == idle {
		m.state.IsValidating = false
		m.idle = nil
	}
	if gen != m.gen {
		return true
	}
	m.inflightCancel = nil
	return false
}

func (m *Monitor) classify(v api.Validation, err error) Outcome {
	if err != nil {
		if api.KindOf(err) == api.KindAuthRejected {
			return OutcomeDeferred
		}
		return OutcomeInconclusive
	}
	if v.Valid {
		return OutcomeValid
	}
	return OutcomeInvalid
}
