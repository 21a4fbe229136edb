package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/api"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/identity"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/push"
	pushv1 "github.com/shavkatbegmatov/jalyuzi-epr-sub002/shared/contracts/push/v1"
)

type tokenBox struct {
	mu  sync.Mutex
	tok string
}

func (b *tokenBox) set(tok string) {
	b.mu.Lock()
	b.tok = tok
	b.mu.Unlock()
}

func (b *tokenBox) AccessToken(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tok, nil
}

type harness struct {
	srv  *Server
	http *httptest.Server
	user identity.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := New(Config{Secret: "test-secret", HeartbeatInterval: time.Hour})
	require.NoError(t, err)
	u, err := s.AddUser(SeedUser{
		Username:    "Alice",
		Password:    "alice-password",
		Permissions: []string{"PRODUCTS_VIEW"},
		Roles:       []string{"SELLER"},
	})
	require.NoError(t, err)

	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)
	return &harness{srv: s, http: hs, user: u}
}

func (h *harness) client(t *testing.T, tokens api.TokenSource) *api.Client {
	t.Helper()
	c, err := api.New(api.Config{BaseURL: h.http.URL + "/api/v1", Tokens: tokens})
	require.NoError(t, err)
	return c
}

func (h *harness) login(t *testing.T) (*api.Client, identity.Grant) {
	t.Helper()
	box := &tokenBox{}
	c := h.client(t, box)
	g, err := c.Login(context.Background(), identity.Credentials{Username: "alice", Password: "alice-password"})
	require.NoError(t, err)
	box.set(g.AccessToken)
	return c, g
}

func TestLogin_GrantAndMe(t *testing.T) {
	h := newHarness(t)
	c, g := h.login(t)

	assert.NotEmpty(t, g.AccessToken)
	assert.NotEmpty(t, g.RefreshToken)
	assert.Equal(t, "alice", g.User.Username)
	assert.Equal(t, []string{"PRODUCTS_VIEW"}, g.Permissions)

	me, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.user.ID, me.User.ID)
	assert.Empty(t, me.AccessToken)
}

func TestLogin_WrongPassword(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, nil)

	_, err := c.Login(context.Background(), identity.Credentials{Username: "alice", Password: "nope-nope-nope"})
	require.Error(t, err)
	assert.Equal(t, api.KindAuthRejected, api.KindOf(err))
}

func TestValidate_RevokedSessionIsInvalidNot401(t *testing.T) {
	h := newHarness(t)
	c, _ := h.login(t)
	ctx := context.Background()

	v, err := c.ValidateSession(ctx)
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.NotNil(t, v.SessionID)

	require.NoError(t, h.srv.RevokeSession(*v.SessionID, "admin"))

	v, err = c.ValidateSession(ctx)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "admin", v.Reason)

	_, err = c.CurrentUser(ctx)
	assert.Equal(t, api.KindAuthRejected, api.KindOf(err))
}

func TestValidate_GarbageTokenIs401(t *testing.T) {
	h := newHarness(t)
	box := &tokenBox{tok: "not-a-jwt"}

	_, err := h.client(t, box).ValidateSession(context.Background())
	assert.Equal(t, api.KindAuthRejected, api.KindOf(err))
}

func TestSessions_ListAndRevokeOthers(t *testing.T) {
	h := newHarness(t)
	c1, _ := h.login(t)
	c2, _ := h.login(t)
	_, _ = h.login(t)
	ctx := context.Background()

	list, err := c1.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	current := 0
	for _, s := range list {
		if s.IsCurrent {
			current++
		}
	}
	assert.Equal(t, 1, current)

	n, err := c1.RevokeOtherSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v, err := c2.ValidateSession(ctx)
	require.NoError(t, err)
	assert.False(t, v.Valid)

	list, err = c1.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRefresh_KeepsSession(t *testing.T) {
	h := newHarness(t)
	c, g := h.login(t)

	g2, err := c.Refresh(context.Background(), g.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, g.AccessToken, g2.AccessToken)

	_, err = c.Refresh(context.Background(), g.AccessToken)
	assert.Equal(t, api.KindAuthRejected, api.KindOf(err))
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	c, _ := h.login(t)
	ctx := context.Background()

	err := c.ChangePassword(ctx, "wrong-current", "brand-new-password")
	assert.Equal(t, api.KindRejected, api.KindOf(err))

	require.NoError(t, c.ChangePassword(ctx, "alice-password", "brand-new-password"))
	_, err = h.client(t, nil).Login(ctx, identity.Credentials{Username: "alice", Password: "brand-new-password"})
	assert.NoError(t, err)
}

func TestNotifications_CRUD(t *testing.T) {
	h := newHarness(t)
	c, _ := h.login(t)
	ctx := context.Background()

	n1, err := h.srv.Notify(h.user.ID, "Low stock", "Blinds A", "WARNING")
	require.NoError(t, err)
	n2 := h.srv.Broadcast("Maintenance", "tonight", "INFO")

	list, err := c.ListNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, n2.ID, list[0].ID)

	require.NoError(t, c.MarkNotificationRead(ctx, n1.ID))
	require.NoError(t, c.DeleteNotification(ctx, n2.ID))

	list, err = c.ListNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsRead)

	err = c.DeleteNotification(ctx, 9999)
	assert.Equal(t, api.KindRejected, api.KindOf(err))

	require.NoError(t, c.MarkAllNotificationsRead(ctx))
}

func TestLogout_EndsSession(t *testing.T) {
	h := newHarness(t)
	c, _ := h.login(t)
	ctx := context.Background()

	require.NoError(t, c.Logout(ctx))
	v, err := c.ValidateSession(ctx)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "logout", v.Reason)
}

func TestAdmin_CreateUserValidates(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Post(h.http.URL+"/admin/users", "application/json",
		strings.NewReader(`{"username":"bob","password":"short"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(h.http.URL+"/admin/users", "application/json",
		strings.NewReader(`{"username":"bob","password":"bob-password","roles":["ADMIN"]}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(h.http.URL+"/admin/users", "application/json",
		strings.NewReader(`{"username":"BOB","password":"bob-password"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

type pushEvents struct {
	mu       sync.Mutex
	notes    []pushv1.Notification
	perms    []pushv1.PermissionUpdate
	sessions []pushv1.SessionUpdate
}

func (e *pushEvents) handlers() push.Handlers {
	return push.Handlers{
		OnNotification: func(n pushv1.Notification) {
			e.mu.Lock()
			e.notes = append(e.notes, n)
			e.mu.Unlock()
		},
		OnPermissionUpdate: func(u pushv1.PermissionUpdate) {
			e.mu.Lock()
			e.perms = append(e.perms, u)
			e.mu.Unlock()
		},
		OnSessionUpdate: func(u pushv1.SessionUpdate) {
			e.mu.Lock()
			e.sessions = append(e.sessions, u)
			e.mu.Unlock()
		},
	}
}

func (e *pushEvents) counts() (int, int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.notes), len(e.perms), len(e.sessions)
}

func TestGateway_DeliversServerEvents(t *testing.T) {
	h := newHarness(t)
	_, g := h.login(t)

	pc, err := push.New(push.Config{URL: "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws", Origin: "http://localhost"})
	require.NoError(t, err)
	t.Cleanup(pc.Disconnect)

	ev := &pushEvents{}
	require.NoError(t, pc.Connect(context.Background(), g.AccessToken, ev.handlers()))

	// Subscriptions land asynchronously after hello_ack.
	require.Eventually(t, func() bool {
		return h.srv.Gateway().Publish(h.user.ID, pushv1.DestUserPermissions, pushv1.PermissionUpdate{Permissions: []string{"A"}}) > 0
	}, 3*time.Second, 20*time.Millisecond)

	_, err = h.srv.Notify(h.user.ID, "hi", "there", "INFO")
	require.NoError(t, err)
	h.srv.Broadcast("all", "staff", "INFO")
	require.NoError(t, h.srv.UpdatePermissions(h.user.ID, []string{"B"}, []string{"SELLER"}, "admin"))

	require.Eventually(t, func() bool {
		n, p, _ := ev.counts()
		return n == 2 && p >= 2
	}, 3*time.Second, 20*time.Millisecond)

	_, _ = h.login(t)
	require.Eventually(t, func() bool {
		_, _, s := ev.counts()
		return s == 1
	}, 3*time.Second, 20*time.Millisecond)
	ev.mu.Lock()
	assert.Equal(t, pushv1.SessionCreated, ev.sessions[0].Type)
	ev.mu.Unlock()
}

func TestGateway_RejectsBadToken(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.http.URL, "http")+"/ws", &websocket.DialOptions{
		Subprotocols: []string{push.Subprotocol},
	})
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	hello, err := pushv1.New(pushv1.TypeHello, "h1", time.Now(), pushv1.HelloPayload{Token: "forged"})
	require.NoError(t, err)
	raw, err := json.Marshal(hello)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, raw))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	env, err := pushv1.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, pushv1.TypeError, env.Type)

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}
