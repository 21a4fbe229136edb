package push

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

	pushv1 "github.com/shavkatbegmatov/jalyuzi-epr-sub002/shared/contracts/push/v1"
)

type serverConn struct {
	conn   *websocket.Conn
	token  string
	subs   chan string
	closed chan struct{}
}

func (s *serverConn) sendRaw(t *testing.T, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.conn.Write(ctx, websocket.MessageText, []byte(data)))
}

func (s *serverConn) publish(t *testing.T, dest string, body any) {
	t.Helper()
	var text string
	switch b := body.(type) {
	case string:
		text = b
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		text = string(raw)
	}
	env, err := pushv1.New(pushv1.TypeMessage, "m", time.Now(), pushv1.MessagePayload{Destination: dest, Body: text})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	s.sendRaw(t, string(raw))
}

func (s *serverConn) waitSubscribed(t *testing.T) []string {
	t.Helper()
	var got []string
	for range pushv1.Destinations {
		select {
		case d := <-s.subs:
			got = append(got, d)
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriptions: got %v", got)
		}
	}
	return got
}

type fakeServer struct {
	srv   *httptest.Server
	conns chan *serverConn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{conns: make(chan *serverConn, 8)}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string { return "ws" + strings.TrimPrefix(fs.srv.URL, "http") }

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{Subprotocol}})
	if err != nil {
		return
	}
	sc := &serverConn{conn: conn, subs: make(chan string, 16), closed: make(chan struct{})}
	defer close(sc.closed)
	defer func() { _ = conn.CloseNow() }()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		env, err := pushv1.Decode(data)
		if err != nil {
			continue
		}
		switch env.Type {
		case pushv1.TypeHello:
			var p pushv1.HelloPayload
			_ = json.Unmarshal(env.Payload, &p)
			sc.token = p.Token
			ack, _ := pushv1.New(pushv1.TypeHelloAck, "ack", time.Now(), pushv1.HelloAckPayload{UserID: 1})
			raw, _ := json.Marshal(ack)
			if conn.Write(ctx, websocket.MessageText, raw) != nil {
				return
			}
			fs.conns <- sc
		case pushv1.TypeSubscribe:
			var p pushv1.SubscribePayload
			_ = json.Unmarshal(env.Payload, &p)
			sc.subs <- p.Destination
		}
	}
}

func (fs *fakeServer) next(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-fs.conns:
		return sc
	case <-time.After(3 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

type recorder struct {
	mu            sync.Mutex
	notifications []pushv1.Notification
	permissions   []pushv1.PermissionUpdate
	sessions      []pushv1.SessionUpdate
	connects      int
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnNotification: func(n pushv1.Notification) {
			r.mu.Lock()
			r.notifications = append(r.notifications, n)
			r.mu.Unlock()
		},
		OnPermissionUpdate: func(u pushv1.PermissionUpdate) {
			r.mu.Lock()
			r.permissions = append(r.permissions, u)
			r.mu.Unlock()
		},
		OnSessionUpdate: func(u pushv1.SessionUpdate) {
			r.mu.Lock()
			r.sessions = append(r.sessions, u)
			r.mu.Unlock()
		},
		OnConnect: func() {
			r.mu.Lock()
			r.connects++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (n, p, s int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notifications), len(r.permissions), len(r.sessions)
}

func newClient(t *testing.T, fs *fakeServer) *Client {
	t.Helper()
	c, err := New(Config{URL: fs.url(), ReconnectDelay: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnect_SubscribesAndDispatches(t *testing.T) {
	fs := newFakeServer(t)
	c := newClient(t, fs)
	rec := &recorder{}

	require.NoError(t, c.Connect(context.Background(), "tok-1", rec.handlers()))
	sc := fs.next(t)
	assert.Equal(t, "tok-1", sc.token)
	assert.Equal(t, pushv1.Destinations, sc.waitSubscribed(t))
	require.Eventually(t, c.Connected, time.Second, 5*time.Millisecond)

	sid := int64(9)
	sc.publish(t, pushv1.DestUserNotifications, pushv1.Notification{ID: 1, Title: "Order shipped"})
	sc.publish(t, pushv1.DestUserPermissions, pushv1.PermissionUpdate{Permissions: []string{"D"}, Reason: "role changed"})
	sc.publish(t, pushv1.DestUserSessions, pushv1.SessionUpdate{Type: pushv1.SessionRevoked, SessionID: &sid, UserID: 1})

	require.Eventually(t, func() bool {
		n, p, s := rec.counts()
		return n == 1 && p == 1 && s == 1
	}, 2*time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"D"}, rec.permissions[0].Permissions)
	assert.Equal(t, int64(9), *rec.sessions[0].SessionID)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	fs := newFakeServer(t)
	c := newClient(t, fs)
	rec := &recorder{}

	require.NoError(t, c.Connect(context.Background(), "tok", rec.handlers()))
	sc := fs.next(t)
	sc.waitSubscribed(t)

	sc.publish(t, pushv1.DestUserNotifications, "this is not json")
	sc.sendRaw(t, "{{{")
	sc.sendRaw(t, `{"v":"v1","type":"message","payload":{"destination":"/user/queue/notifications","body":42}}`)
	sc.publish(t, "/topic/unknown", pushv1.Notification{ID: 5})
	sc.publish(t, pushv1.DestUserSessions, pushv1.SessionUpdate{Type: "SESSION_EXPLODED"})
	sc.publish(t, pushv1.DestUserNotifications, pushv1.Notification{ID: 0})

	// A well-formed frame after the garbage still arrives on the same connection.
	sc.publish(t, pushv1.DestUserNotifications, pushv1.Notification{ID: 2})

	require.Eventually(t, func() bool {
		n, _, _ := rec.counts()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)
	n, p, s := rec.counts()
	assert.Equal(t, []int{1, 0, 0}, []int{n, p, s})
	assert.True(t, c.Connected())
}

func TestReconnectsAfterServerDrop(t *testing.T) {
	fs := newFakeServer(t)
	c := newClient(t, fs)
	rec := &recorder{}

	require.NoError(t, c.Connect(context.Background(), "tok", rec.handlers()))
	first := fs.next(t)
	first.waitSubscribed(t)

	require.NoError(t, first.conn.Close(websocket.StatusGoingAway, "restart"))

	second := fs.next(t)
	assert.Equal(t, pushv1.Destinations, second.waitSubscribed(t))
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.connects == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectTwiceTearsDownFirst(t *testing.T) {
	fs := newFakeServer(t)
	c := newClient(t, fs)
	old, fresh := &recorder{}, &recorder{}

	require.NoError(t, c.Connect(context.Background(), "tok-1", old.handlers()))
	first := fs.next(t)
	first.waitSubscribed(t)

	require.NoError(t, c.Connect(context.Background(), "tok-2", fresh.handlers()))
	select {
	case <-first.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("first connection still open")
	}

	second := fs.next(t)
	assert.Equal(t, "tok-2", second.token)
	second.waitSubscribed(t)
	second.publish(t, pushv1.DestStaffNotifications, pushv1.Notification{ID: 3})

	require.Eventually(t, func() bool {
		n, _, _ := fresh.counts()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)
	n, _, _ := old.counts()
	assert.Equal(t, 0, n)
}

func TestDisconnectStopsEverything(t *testing.T) {
	fs := newFakeServer(t)
	c := newClient(t, fs)
	rec := &recorder{}

	require.NoError(t, c.Connect(context.Background(), "tok", rec.handlers()))
	sc := fs.next(t)
	sc.waitSubscribed(t)

	c.Disconnect()
	c.Disconnect()
	assert.False(t, c.Connected())

	select {
	case <-sc.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection still open after Disconnect")
	}

	select {
	case <-fs.conns:
		t.Fatal("reconnected after Disconnect")
	case <-time.After(100 * time.Millisecond):
	}
	n, _, _ := rec.counts()
	assert.Equal(t, 0, n)
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(Config{URL: "http://example.com/ws"})
	assert.Error(t, err)
	_, err = New(Config{URL: "ws://"})
	assert.Error(t, err)
}

func TestConnect_RequiresToken(t *testing.T) {
	c, err := New(Config{URL: "ws://127.0.0.1:1/ws"})
	require.NoError(t, err)
	assert.Error(t, c.Connect(context.Background(), " ", Handlers{}))
}
