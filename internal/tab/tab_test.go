package tab

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/devserver"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/identity"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/storage"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/ui"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/ui/uitest"
	pushv1 "github.com/shavkatbegmatov/jalyuzi-epr-sub002/shared/contracts/push/v1"
)

const (
	waitFor = 5 * time.Second
	tick    = 20 * time.Millisecond
)

type env struct {
	srv     *devserver.Server
	http    *httptest.Server
	user    identity.User
	backend *storage.Memory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	srv, err := devserver.New(devserver.Config{Secret: "tab-test", HeartbeatInterval: time.Hour})
	require.NoError(t, err)
	u, err := srv.AddUser(devserver.SeedUser{
		Username:    "seller",
		Password:    "seller-password",
		Permissions: []string{"PRODUCTS_VIEW"},
		Roles:       []string{"SELLER"},
	})
	require.NoError(t, err)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &env{srv: srv, http: hs, user: u, backend: storage.NewMemory()}
}

func (e *env) open(t *testing.T) (*Tab, *uitest.Recorder) {
	t.Helper()
	rec := &uitest.Recorder{}
	tb, err := New(Config{
		Backend:        e.backend,
		APIURL:         e.http.URL + "/api/v1",
		PushURL:        "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws",
		Toaster:        rec,
		Navigator:      rec,
		PollInterval:   time.Hour,
		InitialDelay:   time.Hour,
		LogoutDelay:    50 * time.Millisecond,
		ReconnectDelay: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, tb.Start(context.Background()))
	t.Cleanup(tb.Close)
	return tb, rec
}

func (e *env) connected(t *testing.T, tabs ...*Tab) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, tb := range tabs {
			if !tb.PushConnected() {
				return false
			}
		}
		gw := e.srv.Gateway()
		if gw.Connections(e.user.ID) != len(tabs) {
			return false
		}
		for _, dest := range pushv1.Destinations {
			if gw.Subscribers(e.user.ID, dest) != len(tabs) {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

func TestLogin_BringsUpPush(t *testing.T) {
	e := newEnv(t)
	tb, _ := e.open(t)
	ctx := context.Background()

	assert.False(t, tb.State().IsAuthenticated())
	assert.False(t, tb.PushConnected())

	u, err := tb.Login(ctx, "  SELLER ", "seller-password")
	require.NoError(t, err)
	assert.Equal(t, e.user.ID, u.ID)
	assert.True(t, tb.State().HasPermission("PRODUCTS_VIEW"))
	assert.True(t, tb.State().HasRole("SELLER"))

	e.connected(t, tb)
}

func TestLogin_WrongPasswordLeavesLoggedOut(t *testing.T) {
	e := newEnv(t)
	tb, _ := e.open(t)

	_, err := tb.Login(context.Background(), "seller", "not-the-password")
	require.Error(t, err)
	assert.False(t, tb.State().IsAuthenticated())
}

func TestStart_RehydratesFromSharedStorage(t *testing.T) {
	e := newEnv(t)
	a, _ := e.open(t)
	_, err := a.Login(context.Background(), "seller", "seller-password")
	require.NoError(t, err)

	b, _ := e.open(t)
	assert.True(t, b.State().IsAuthenticated())
	e.connected(t, a, b)
}

func TestLogout_OtherTabFollows(t *testing.T) {
	e := newEnv(t)
	a, recA := e.open(t)
	_, err := a.Login(context.Background(), "seller", "seller-password")
	require.NoError(t, err)
	b, recB := e.open(t)
	e.connected(t, a, b)

	require.NoError(t, a.Logout(context.Background()))
	assert.False(t, a.State().IsAuthenticated())
	assert.Equal(t, 1, recA.Logins())

	require.Eventually(t, func() bool {
		return !b.State().IsAuthenticated() && recB.Logins() == 1
	}, waitFor, tick)
	require.Eventually(t, func() bool { return !b.PushConnected() }, waitFor, tick)

	// One forced logout for b even though crosstab and push both reported it.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, recB.Logins())
	assert.NotEmpty(t, recB.Toasts())
}

func TestServerRevocation_ForcesLogout(t *testing.T) {
	e := newEnv(t)
	tb, rec := e.open(t)
	ctx := context.Background()
	_, err := tb.Login(ctx, "seller", "seller-password")
	require.NoError(t, err)
	e.connected(t, tb)

	sessions, err := tb.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.True(t, sessions[0].IsCurrent)

	require.NoError(t, e.srv.RevokeSession(sessions[0].ID, "admin"))

	require.Eventually(t, func() bool {
		return !tb.State().IsAuthenticated() && rec.Logins() == 1
	}, waitFor, tick)
	assert.Contains(t, rec.Levels(), ui.LevelWarn)
}

func TestPermissionPush_UpdatesState(t *testing.T) {
	e := newEnv(t)
	tb, _ := e.open(t)
	_, err := tb.Login(context.Background(), "seller", "seller-password")
	require.NoError(t, err)
	e.connected(t, tb)

	require.NoError(t, e.srv.UpdatePermissions(e.user.ID, []string{"PRODUCTS_VIEW", "ORDERS_EDIT"}, []string{"MANAGER"}, "promotion"))
	require.Eventually(t, func() bool { return tb.State().HasPermission("ORDERS_EDIT") }, waitFor, tick)
	assert.True(t, tb.State().HasRole("MANAGER"))
	assert.False(t, tb.State().HasRole("SELLER"))
	assert.True(t, tb.State().IsAuthenticated())
}

func TestNotifications_PushAndRefresh(t *testing.T) {
	e := newEnv(t)
	_, err := e.srv.Notify(e.user.ID, "before login", "", "INFO")
	require.NoError(t, err)

	tb, _ := e.open(t)
	_, err = tb.Login(context.Background(), "seller", "seller-password")
	require.NoError(t, err)
	e.connected(t, tb)

	require.Eventually(t, func() bool { return len(tb.Notifications().Notifications()) == 1 }, waitFor, tick)

	e.srv.Broadcast("stock", "low", "WARNING")
	require.Eventually(t, func() bool { return len(tb.Notifications().Notifications()) == 2 }, waitFor, tick)
	assert.Equal(t, 2, tb.Notifications().Unread())

	require.NoError(t, tb.Notifications().MarkAllRead(context.Background()))
	assert.Equal(t, 0, tb.Notifications().Unread())
}

func TestRevokeOtherSessions_EmitsRefresh(t *testing.T) {
	e := newEnv(t)
	tb, _ := e.open(t)
	ctx := context.Background()
	_, err := tb.Login(ctx, "seller", "seller-password")
	require.NoError(t, err)

	var events atomic.Int32
	off := tb.Bus().On(ui.EventSessionsChanged, func(any) { events.Add(1) })
	defer off()

	n, err := tb.RevokeOtherSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int32(1), events.Load())
	assert.True(t, tb.State().IsAuthenticated())
}

func TestClose_StopsEverything(t *testing.T) {
	e := newEnv(t)
	tb, _ := e.open(t)
	_, err := tb.Login(context.Background(), "seller", "seller-password")
	require.NoError(t, err)
	e.connected(t, tb)

	tb.Close()
	assert.False(t, tb.PushConnected())
	require.Eventually(t, func() bool { return e.srv.Gateway().Connections(e.user.ID) == 0 }, waitFor, tick)

	_, err = tb.Login(context.Background(), "seller", "seller-password")
	assert.ErrorIs(t, err, ErrClosed)

	// Closing keeps the stored session for the next tab.
	next, _ := e.open(t)
	assert.True(t, next.State().IsAuthenticated())
}

func TestNotStarted(t *testing.T) {
	e := newEnv(t)
	tb, err := New(Config{
		Backend: e.backend,
		APIURL:  e.http.URL + "/api/v1",
		PushURL: "ws://127.0.0.1:1/ws",
	})
	require.NoError(t, err)
	defer tb.Close()

	_, err = tb.Login(context.Background(), "seller", "seller-password")
	assert.ErrorIs(t, err, ErrNotStarted)
}
