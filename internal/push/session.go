package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/ids"
	pushv1 "github.com/shavkatbegmatov/jalyuzi-epr-sub002/shared/contracts/push/v1"
)

// session runs one connection until it fails or ctx is cancelled.
func (c *Client) session(ctx context.Context, gen uint64, token string) error {
	conn, err := c.dial(ctx)
	if err != nil {
		c.cfg.Metrics.PushConnect("dial_failed")
		return err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	if err := c.handshake(ctx, conn, token); err != nil {
		c.cfg.Metrics.PushConnect("handshake_failed")
		return err
	}
	c.cfg.Metrics.PushConnect("ok")

	sctx, cancel := context.WithCancel(ctx)

	c.setConnected(gen, true)
	c.cfg.Log.Info("push.connected", "destinations", len(pushv1.Destinations))
	if h, ok := c.current(gen); ok && h.OnConnect != nil {
		c.safeCall("on_connect", h.OnConnect)
	}

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		c.heartbeat(sctx, conn, cancel)
	}()
	defer func() { <-heartbeatDone }()
	defer cancel()

	for {
		mt, data, err := conn.Read(sctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				return fmt.Errorf("push: closed by server: %w", err)
			case readErrCtxDone:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("push: heartbeat failed")
			default:
				return fmt.Errorf("push: read: %w", err)
			}
		}
		if mt != websocket.MessageText {
			c.drop("binary_frame", nil)
			continue
		}
		c.dispatch(gen, data)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(c.cfg.Origin) != "" {
		h.Set("Origin", c.cfg.Origin)
	}

	conn, resp, err := websocket.Dial(dctx, c.cfg.URL, &websocket.DialOptions{
		HTTPClient:   c.cfg.HTTPClient,
		HTTPHeader:   h,
		Subprotocols: []string{Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("push: dial: %w", err)
	}
	if sp := conn.Subprotocol(); sp != Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("%w: subprotocol %q", ErrHandshake, sp)
	}
	return conn, nil
}

// handshake sends hello, waits for hello_ack and subscribes to every destination.
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn, token string) error {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	if err := c.write(hctx, conn, pushv1.TypeHello, pushv1.HelloPayload{Token: token}); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	for {
		_, data, err := conn.Read(hctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		env, err := pushv1.Decode(data)
		if err != nil {
			c.drop("bad_envelope", err)
			continue
		}
		if env.Type == pushv1.TypeError {
			var p pushv1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			return fmt.Errorf("%w: %s: %s", ErrRejected, p.Code, p.Message)
		}
		if env.Type == pushv1.TypeHelloAck {
			break
		}
	}

	for _, d := range pushv1.Destinations {
		if err := c.write(hctx, conn, pushv1.TypeSubscribe, pushv1.SubscribePayload{Destination: d}); err != nil {
			return fmt.Errorf("%w: subscribe %s: %v", ErrHandshake, d, err)
		}
	}
	return nil
}

func (c *Client) heartbeat(ctx context.Context, conn interface {
	Ping(context.Context) error
}, fail context.CancelFunc) {
	t := c.cfg.Clock.NewTicker(c.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, c.cfg.HeartbeatTimeout)
			err := conn.Ping(pctx)
			cancel()

			if err == nil {
				failures = 0
				continue
			}
			if ctx.Err() != nil {
				return
			}
			failures++
			c.cfg.Log.Info("push.ping.fail", "failures", failures, "err", err)
			if failures >= maxPingFailures {
				fail()
				return
			}
		}
	}
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	env, err := pushv1.New(typ, ids.ULID(c.cfg.Clock.Now()), c.cfg.Clock.Now(), payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
