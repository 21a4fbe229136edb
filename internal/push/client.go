// Package push is the per-tab client for the server push channel.
//
// A Client owns at most one connection. Connect always tears the previous
// connection down first, so subscriptions never accumulate. While the
// connection was not closed on purpose it is re-established after a fixed
// delay, indefinitely. Disconnect is idempotent and returns only after the
// connection goroutine has exited; no handler runs after it returns.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/metrics"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/platform/clock"
	pushv1 "github.com/shavkatbegmatov/jalyuzi-epr-sub002/shared/contracts/push/v1"
)

// Subprotocol is negotiated on the WebSocket handshake.
const Subprotocol = "backoffice.push.v1"

const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultWriteTimeout      = 5 * time.Second

	maxFrameBytes   = 64 << 10
	maxPingFailures = 3
)

var (
	ErrHandshake = errors.New("push: handshake failed")
	ErrRejected  = errors.New("push: rejected by server")
)

// Handlers receive decoded messages. They run on the connection goroutine and
// must not call Connect or Disconnect synchronously.
type Handlers struct {
	OnNotification     func(pushv1.Notification)
	OnPermissionUpdate func(pushv1.PermissionUpdate)
	OnSessionUpdate    func(pushv1.SessionUpdate)
	OnConnect          func()
	OnDisconnect       func(err error)
}

type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL    string
	Origin string

	Clock             clock.Clock
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration

	HTTPClient *http.Client
	Log        *slog.Logger
	Metrics    *metrics.Metrics
}

type Client struct {
	cfg      Config
	validate *validator.Validate

	// lifeMu serializes Connect and Disconnect.
	lifeMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	handlers  Handlers
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
}

// New validates cfg and constructs an idle Client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("push: invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("push: unsupported scheme: %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("push: missing host")
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Client{
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Connect replaces any existing connection with a new one authenticated by
// token. It returns once the connection goroutine is started; connection
// failures are retried in the background.
func (c *Client) Connect(ctx context.Context, token string, h Handlers) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("push: missing token")
	}

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.teardown()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.handlers = h
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(loopCtx, gen, token, done)
	c.cfg.Log.Debug("push.connect", "gen", gen)
	return nil
}

// Disconnect closes the connection, stops reconnecting and drops every handler.
func (c *Client) Disconnect() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	c.teardown()
}

// Connected reports whether a handshake-complete connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) teardown() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.gen++
	c.handlers = Handlers{}
	c.cancel = nil
	c.done = nil
	c.connected = false
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.cfg.Log.Debug("push.disconnect")
}

// current returns the handlers for gen, or false when gen is stale.
func (c *Client) current(gen uint64) (Handlers, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return Handlers{}, false
	}
	return c.handlers, true
}

func (c *Client) setConnected(gen uint64, v bool) {
	c.mu.Lock()
	if gen == c.gen {
		c.connected = v
	}
	c.mu.Unlock()
}

func (c *Client) run(ctx context.Context, gen uint64, token string, done chan struct{}) {
	defer close(done)

	for attempt := 0; ; attempt++ {
		err := c.session(ctx, gen, token)
		c.setConnected(gen, false)
		if ctx.Err() != nil {
			return
		}

		c.cfg.Log.Info("push.connection.lost", "attempt", attempt, "retry_in", c.cfg.ReconnectDelay, "err", err)
		if h, ok := c.current(gen); ok && h.OnDisconnect != nil {
			c.safeCall("on_disconnect", func() { h.OnDisconnect(err) })
		}

		select {
		case <-ctx.Done():
			return
		case <-c.cfg.Clock.After(c.cfg.ReconnectDelay):
		}
	}
}
