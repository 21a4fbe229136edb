// Package tab composes one client instance: storage area, auth container,
// REST client, session monitor, cross-tab synchronizer, push channel and
// notification coordinator.
//
// A Tab reacts to its own authentication transitions on a dedicated
// goroutine. Container subscribers only signal that goroutine, so push and
// monitor teardown never run under the container's write lock.
package tab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/api"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/auth/crosstab"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/auth/logout"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/auth/monitor"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/auth/state"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/identity"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/metrics"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/notify"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/clock"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/ids"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/sched"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/push"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/storage"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/ui"
)

var (
	ErrClosed     = errors.New("tab: closed")
	ErrNotStarted = errors.New("tab: not started")
)

type Config struct {
	// Backend is shared by every tab of the same origin.
	Backend storage.Backend
	// ID identifies the tab as a storage origin. Empty means a fresh ULID.
	ID      string

	APIURL     string
	PushURL    string
	PushOrigin string
	HTTPClient *http.Client

	Clock     clock.Clock
	Toaster   ui.Toaster
	Navigator ui.Navigator

	PollInterval   time.Duration
	MinInterval    time.Duration
	InitialDelay   time.Duration
	LogoutDelay    time.Duration
	ReconnectDelay time.Duration
	IntentTTL      time.Duration
	HTTPTimeout    time.Duration
	TrustSessionID bool

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

type Tab struct {
	id  string
	log *slog.Logger
	nav ui.Navigator

	area     *storage.Area
	state    *state.Container
	api      *api.Client
	intent   *state.LogoutIntent
	enforcer *logout.Enforcer
	monitor  *monitor.Monitor
	sync     *crosstab.Synchronizer
	push     *push.Client
	coord    *notify.Coordinator
	bus      *ui.Bus

	kick chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
	unsub   func()
	cancel  context.CancelFunc
	done    chan struct{}

	// lifeMu guards the applied lifecycle.
	lifeMu      sync.Mutex
	activeToken string
}

// New builds an idle tab. Call Start to rehydrate it.
func New(cfg Config) (*Tab, error) {
	if cfg.Backend == nil {
		return nil, errors.New("tab: backend required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.ID == "" {
		id, err := ids.NewULID(cfg.Clock.Now())
		if err != nil {
			return nil, fmt.Errorf("tab: id: %w", err)
		}
		cfg.ID = id
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	log := cfg.Log.With("tab", cfg.ID)
	if cfg.Toaster == nil {
		cfg.Toaster = ui.LogToaster{Log: log}
	}
	if cfg.Navigator == nil {
		cfg.Navigator = ui.NavigatorFunc(func() { log.Info("ui.navigate.login") })
	}
	if cfg.IntentTTL <= 0 {
		cfg.IntentTTL = state.DefaultIntentTTL
	}

	t := &Tab{
		id:   cfg.ID,
		log:  log,
		nav:  cfg.Navigator,
		bus:  ui.NewBus(),
		kick: make(chan struct{}, 1),
	}

	t.area = storage.NewArea(cfg.Backend, cfg.ID)
	t.state = state.New(t.area, log)
	t.intent = state.NewLogoutIntent(cfg.Clock, cfg.IntentTTL)

	client, err := api.New(api.Config{
		BaseURL:    cfg.APIURL,
		HTTPClient: cfg.HTTPClient,
		Timeout:    cfg.HTTPTimeout,
		Tokens:     t.state,
		Log:        log,
	})
	if err != nil {
		return nil, err
	}
	t.api = client

	t.enforcer = logout.New(logout.Config{
		State:     t.state,
		Toaster:   cfg.Toaster,
		Navigator: cfg.Navigator,
		Scheduler: sched.New(cfg.Clock),
		Delay:     cfg.LogoutDelay,
		Log:       log,
		Metrics:   cfg.Metrics,
	})

	t.monitor = monitor.New(monitor.Config{
		Validator:    client,
		Forcer:       t.enforcer,
		Clock:        cfg.Clock,
		PollInterval: cfg.PollInterval,
		MinInterval:  cfg.MinInterval,
		InitialDelay: cfg.InitialDelay,
		CallTimeout:  cfg.HTTPTimeout,
		Log:          log,
		Metrics:      cfg.Metrics,
	})

	t.sync = crosstab.New(crosstab.Config{
		Watcher: t.area,
		Forcer:  t.enforcer,
		Toaster: cfg.Toaster,
		Log:     log,
	})

	pc, err := push.New(push.Config{
		URL:            cfg.PushURL,
		Origin:         cfg.PushOrigin,
		Clock:          cfg.Clock,
		ReconnectDelay: cfg.ReconnectDelay,
		HTTPClient:     cfg.HTTPClient,
		Log:            log,
		Metrics:        cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	t.push = pc

	t.coord = notify.New(notify.Config{
		API:            client,
		Validator:      t.monitor,
		Auth:           t.state,
		Intent:         t.intent,
		Forcer:         t.enforcer,
		Toaster:        cfg.Toaster,
		Bus:            t.bus,
		CallTimeout:    cfg.HTTPTimeout,
		TrustSessionID: cfg.TrustSessionID,
		Log:            log,
		Metrics:        cfg.Metrics,
	})

	return t, nil
}

func (t *Tab) ID() string { return t.id }
func (t *Tab) State() *state.Container { return t.state }
func (t *Tab) Notifications() *notify.Coordinator { return t.coord }
func (t *Tab) Bus() *ui.Bus { return t.bus }
func (t *Tab) Validation() monitor.ValidationState { return t.monitor.State() }
func (t *Tab) PushConnected() bool { return t.push.Connected() }

// Start rehydrates the container from storage and brings up the
// authenticated machinery when a session was restored.
func (t *Tab) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	snap, err := t.state.Load(ctx)
	if err != nil {
		t.log.Warn("tab.load.fail", "err", err)
	}
	t.log.Info("tab.start", "authenticated", snap.IsAuthenticated, "user", snap.User.Username)

	unsub := t.state.Subscribe(func(state.Snapshot) { t.signal() })
	t.mu.Lock()
	t.unsub = unsub
	t.mu.Unlock()

	go t.loop(loopCtx)
	t.reconcile(ctx)
	return nil
}

func (t *Tab) signal() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *Tab) loop(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.kick:
			t.reconcile(ctx)
		}
	}
}

// reconcile moves the monitor, synchronizer and push channel to match the
// container. A changed access token reconnects the push channel.
func (t *Tab) reconcile(ctx context.Context) {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	if !t.state.IsAuthenticated() {
		if t.activeToken != "" {
			t.deactivateLocked()
		}
		return
	}

	token, err := t.state.AccessToken(ctx)
	if err != nil || token == "" {
		t.log.Warn("tab.activate.token.fail", "err", err)
		return
	}
	if token == t.activeToken {
		return
	}

	first := t.activeToken == ""
	t.activeToken = token

	if first {
		t.monitor.Start()
		if err := t.sync.Start(); err != nil {
			t.log.Warn("tab.crosstab.start.fail", "err", err)
		}
	}
	if err := t.push.Connect(ctx, token, t.coord.Handlers()); err != nil {
		t.log.Warn("tab.push.connect.fail", "err", err)
	}
	if first {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			_ = t.coord.Refresh(context.WithoutCancel(ctx))
		}()
		t.log.Info("tab.activate")
	} else {
		t.log.Info("tab.push.reauth")
	}
}

func (t *Tab) deactivateLocked() {
	t.activeToken = ""
	t.monitor.Stop()
	t.sync.Stop()
	t.push.Disconnect()
	t.enforcer.Reset()
	t.coord.Reset()
	t.log.Info("tab.deactivate")
}

// Signal forwards a host lifecycle signal to the session monitor.
func (t *Tab) Signal(sig ui.Signal) { t.monitor.Signal(sig) }

// Login authenticates against the API and stores the grant. The monitor,
// synchronizer and push channel come up before Login returns.
func (t *Tab) Login(ctx context.Context, username, password string) (identity.User, error) {
	if err := t.ready(); err != nil {
		return identity.User{}, err
	}
	grant, err := t.api.Login(ctx, identity.Credentials{
		Username: identity.NormalizeUsername(username),
		Password: password,
	})
	if err != nil {
		return identity.User{}, err
	}

	t.intent.Clear()
	if err := t.state.SetAuth(ctx, grant.User, grant.AccessToken, grant.RefreshToken, grant.Permissions, grant.Roles); err != nil {
		return identity.User{}, err
	}
	t.reconcile(ctx)
	return grant.User, nil
}

// Logout ends the session on purpose. The server call is best effort; local
// state is always cleared and the tab navigates to login.
func (t *Tab) Logout(ctx context.Context) error {
	if err := t.ready(); err != nil {
		return err
	}
	t.intent.Mark()

	if err := t.api.Logout(ctx); err != nil {
		t.log.Warn("tab.logout.remote.fail", "err", err)
	}
	err := t.state.Logout(ctx)
	t.reconcile(ctx)
	t.nav.ToLogin()
	return err
}

func (t *Tab) ChangePassword(ctx context.Context, current, next string) error {
	return t.api.ChangePassword(ctx, current, next)
}

func (t *Tab) Sessions(ctx context.Context) ([]identity.Session, error) {
	return t.api.ListSessions(ctx)
}

// RevokeSession revokes one session and asks session views to refetch.
func (t *Tab) RevokeSession(ctx context.Context, id int64) error {
	if err := t.api.RevokeSession(ctx, id); err != nil {
		return err
	}
	t.bus.Emit(ui.EventSessionsChanged, id)
	return nil
}

// RevokeOtherSessions revokes every session but the current one.
func (t *Tab) RevokeOtherSessions(ctx context.Context) (int, error) {
	n, err := t.api.RevokeOtherSessions(ctx)
	if err != nil {
		return 0, err
	}
	t.bus.Emit(ui.EventSessionsChanged, n)
	return n, nil
}

func (t *Tab) ready() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.closed:
		return ErrClosed
	case !t.started:
		return ErrNotStarted
	}
	return nil
}

// Close stops every component. Stored auth data is left in place.
func (t *Tab) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	cancel, done, unsub := t.cancel, t.done, t.unsub
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
		<-done
	}

	t.lifeMu.Lock()
	if t.activeToken != "" {
		t.deactivateLocked()
	}
	t.lifeMu.Unlock()

	t.enforcer.Reset()
	t.monitor.Wait()
	t.wg.Wait()
	t.coord.Reset()
	t.log.Info("tab.close")
}
