package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/ids"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/push"
	pushv1 "github.com/shavkatbegmatov/jalyuzi-epr-sub002/shared/contracts/push/v1"
)

const (
	defaultSendQueue        = 64
	defaultWriteTimeout     = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadIdle         = 2 * time.Minute
	defaultHeartbeat        = 25 * time.Second
	defaultHeartbeatTimeout = 5 * time.Second
	defaultRateEvents       = 30
	defaultRateWindow       = 10 * time.Second

	maxFrameBytes   = 64 << 10
	maxPingFailures = 3
	closeGrace      = time.Second
)

// authFunc resolves a push hello token to its user and session.
type authFunc func(token string) (userID, sessionID int64, err error)

type peer struct {
	userID    int64
	sessionID int64
	send      chan pushv1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]bool
}

func (p *peer) close() { p.closeOnce.Do(func() { close(p.done) }) }

func (p *peer) subscribed(dest string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs[dest]
}

// Gateway is the push endpoint. Peers authenticate with hello and then
// subscribe to destinations; Publish fans bodies out to matching peers.
type Gateway struct {
	log  *slog.Logger
	auth authFunc
	now  func() time.Time

	originPatterns   []string
	handshakeTimeout time.Duration
	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration
	writeTimeout     time.Duration
	readIdle         time.Duration
	rateEvents       int
	rateWindow       time.Duration

	mu    sync.RWMutex
	peers map[*peer]struct{}
}

func newGateway(log *slog.Logger, auth authFunc, cfg Config) *Gateway {
	g := &Gateway{
		log:              log,
		auth:             auth,
		now:              cfg.Now,
		originPatterns:   cfg.OriginPatterns,
		handshakeTimeout: cfg.HandshakeTimeout,
		heartbeatEvery:   cfg.HeartbeatInterval,
		heartbeatTimeout: defaultHeartbeatTimeout,
		writeTimeout:     defaultWriteTimeout,
		readIdle:         defaultReadIdle,
		rateEvents:       cfg.RateEvents,
		rateWindow:       cfg.RateWindow,
		peers:            make(map[*peer]struct{}),
	}
	if g.handshakeTimeout <= 0 {
		g.handshakeTimeout = defaultHandshakeTimeout
	}
	if g.heartbeatEvery <= 0 {
		g.heartbeatEvery = defaultHeartbeat
	}
	return g
}

// Connections counts authenticated peers of userID; 0 counts every peer.
func (g *Gateway) Connections(userID int64) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for p := range g.peers {
		if userID == 0 || p.userID == userID {
			n++
		}
	}
	return n
}

// Subscribers counts peers of userID subscribed to dest; 0 counts every peer.
func (g *Gateway) Subscribers(userID int64, dest string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for p := range g.peers {
		if (userID == 0 || p.userID == userID) && p.subscribed(dest) {
			n++
		}
	}
	return n
}

// Publish delivers body to every peer subscribed to dest. userID 0 targets
// all peers (topic semantics); otherwise only that user's peers (queue).
// It returns how many peers the message was queued for.
func (g *Gateway) Publish(userID int64, dest string, body any) int {
	raw, err := json.Marshal(body)
	if err != nil {
		g.log.Error("devserver.push.encode.fail", "dest", dest, "err", err)
		return 0
	}
	env, err := g.envelope(pushv1.TypeMessage, pushv1.MessagePayload{Destination: dest, Body: string(raw)})
	if err != nil {
		g.log.Error("devserver.push.encode.fail", "dest", dest, "err", err)
		return 0
	}

	g.mu.RLock()
	targets := make([]*peer, 0, len(g.peers))
	for p := range g.peers {
		if (userID == 0 || p.userID == userID) && p.subscribed(dest) {
			targets = append(targets, p)
		}
	}
	g.mu.RUnlock()

	n := 0
	for _, p := range targets {
		if enqueue(p, env) {
			n++
		} else {
			g.log.Info("devserver.push.backpressure", "user_id", p.userID, "dest", dest)
		}
	}
	g.log.Debug("devserver.push.publish", "user_id", userID, "dest", dest, "peers", n)
	return n
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{push.Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Info("devserver.ws.accept.fail", "err", err, "origin", r.Header.Get("Origin"))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != push.Subprotocol {
		g.log.Info("devserver.ws.reject.subprotocol", "got", sp)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	p, err := g.hello(ctx, conn)
	if err != nil {
		g.log.Info("devserver.ws.hello.fail", "err", err)
		g.writeDirect(ctx, conn, pushv1.TypeError, pushv1.ErrorPayload{Code: "unauthorized", Message: err.Error()})
		_ = conn.Close(websocket.StatusPolicyViolation, "hello failed")
		return
	}
	g.register(p)
	g.log.Info("devserver.ws.open", "user_id", p.userID, "session_id", p.sessionID)

	var once sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		once.Do(func() {
			g.unregister(p)
			p.close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case env := <-p.send:
				if err := g.writeEnvelope(ctx, conn, env); err != nil {
					g.log.Info("devserver.ws.write.fail", "user_id", p.userID, "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case <-t.C:
				hctx, hcancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hctx)
				hcancel()
				if err == nil {
					failures = 0
					continue
				}
				failures++
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
			}
		}
	}()

	g.readLoop(ctx, conn, p, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	g.log.Info("devserver.ws.close", "user_id", p.userID, "session_id", p.sessionID)
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, p *peer, shutdown func(websocket.StatusCode, string)) {
	rl := newRateLimiter(g.rateEvents, g.rateWindow)
	for {
		rctx, rcancel := context.WithTimeout(ctx, g.readIdle)
		_, data, err := conn.Read(rctx)
		rcancel()
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !isClosedErr(err) {
				g.log.Info("devserver.ws.read.fail", "user_id", p.userID, "err", err)
			}
			return
		}

		if !rl.allow(g.now()) {
			g.sendError(p, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}

		env, err := pushv1.Decode(data)
		if err != nil {
			g.sendError(p, "bad_envelope", err.Error())
			continue
		}

		switch env.Type {
		case pushv1.TypeSubscribe:
			var sp pushv1.SubscribePayload
			if err := json.Unmarshal(env.Payload, &sp); err != nil || !pushv1.KnownDestination(sp.Destination) {
				g.sendError(p, "unknown_destination", sp.Destination)
				continue
			}
			p.mu.Lock()
			p.subs[sp.Destination] = true
			p.mu.Unlock()
			if ack, err := g.envelope(pushv1.TypeSubscribed, pushv1.SubscribedPayload(sp)); err == nil {
				enqueue(p, ack)
			}
		default:
			g.sendError(p, "unsupported", env.Type)
		}
	}
}

// hello reads the first frame, which must authenticate the peer.
func (g *Gateway) hello(ctx context.Context, conn *websocket.Conn) (*peer, error) {
	hctx, cancel := context.WithTimeout(ctx, g.handshakeTimeout)
	defer cancel()

	_, data, err := conn.Read(hctx)
	if err != nil {
		return nil, err
	}
	env, err := pushv1.Decode(data)
	if err != nil {
		return nil, err
	}
	if env.Type != pushv1.TypeHello {
		return nil, errors.New("hello required")
	}
	var hp pushv1.HelloPayload
	if err := json.Unmarshal(env.Payload, &hp); err != nil {
		return nil, err
	}
	uid, sid, err := g.auth(hp.Token)
	if err != nil {
		return nil, err
	}

	p := &peer{
		userID:    uid,
		sessionID: sid,
		send:      make(chan pushv1.Envelope, defaultSendQueue),
		done:      make(chan struct{}),
		subs:      make(map[string]bool),
	}
	if err := g.writeDirect(hctx, conn, pushv1.TypeHelloAck, pushv1.HelloAckPayload{UserID: uid, SessionID: &sid}); err != nil {
		return nil, err
	}
	return p, nil
}

func (g *Gateway) register(p *peer) {
	g.mu.Lock()
	g.peers[p] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) unregister(p *peer) {
	g.mu.Lock()
	delete(g.peers, p)
	g.mu.Unlock()
}

func (g *Gateway) envelope(typ string, payload any) (pushv1.Envelope, error) {
	now := g.now()
	return pushv1.New(typ, ids.ULID(now), now, payload)
}

func (g *Gateway) sendError(p *peer, code, msg string) {
	if env, err := g.envelope(pushv1.TypeError, pushv1.ErrorPayload{Code: code, Message: msg}); err == nil {
		enqueue(p, env)
	}
}

// writeDirect writes outside the writer goroutine; only valid before it starts.
func (g *Gateway) writeDirect(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	env, err := g.envelope(typ, payload)
	if err != nil {
		return err
	}
	return g.writeEnvelope(ctx, conn, env)
}

func (g *Gateway) writeEnvelope(parent context.Context, conn *websocket.Conn, env pushv1.Envelope) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func enqueue(p *peer, env pushv1.Envelope) bool {
	select {
	case <-p.done:
		return false
	case p.send <- env:
		return true
	default:
		return false
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}
