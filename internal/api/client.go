// Package api is the client for the back-office REST API.
//
// Every response uses the envelope {success, message, data, timestamp}.
// Failures are returned as *Error, classified once into a Kind.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HeaderRequestID correlates a call with server logs.
const HeaderRequestID = "X-Request-ID"

const maxBodyBytes = 1 << 20

// TokenSource yields the bearer token for authenticated calls.
// An empty token sends the request without Authorization.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type Config struct {
	// BaseURL is the API root, for example http://localhost:8080/api/v1.
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Tokens     TokenSource
	Log        *slog.Logger
}

type Client struct {
	base   *url.URL
	hc     *http.Client
	tokens TokenSource
	log    *slog.Logger
}

// New validates cfg and constructs a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api: invalid base url %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Client{base: base, hc: hc, tokens: cfg.Tokens, log: log}, nil
}

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// call issues one request. out may be nil when the data is not needed.
func (c *Client) call(ctx context.Context, op, method, path string, authed bool, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Kind: KindRejected, Message: "encode request", Err: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return &Error{Op: op, Kind: KindRejected, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set(HeaderRequestID, reqID)

	if authed && c.tokens != nil {
		tok, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return &Error{Op: op, Kind: KindTransient, Message: "read token", Err: err}
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Debug("api.call.fail", "op", op, "request_id", reqID, "err", err)
		return transportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportError(op, err)
	}
	c.log.Debug("api.call",
		"op", op,
		"status", resp.StatusCode,
		"request_id", reqID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Op: op, Kind: kindForStatus(resp.StatusCode), Status: resp.StatusCode}
		if decodeErr == nil {
			e.Message = env.Message
		}
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return e
	}
	if decodeErr != nil {
		return &Error{Op: op, Kind: KindMalformed, Status: resp.StatusCode, Message: "decode envelope", Err: decodeErr}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request not successful"
		}
		return &Error{Op: op, Kind: KindRejected, Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Op: op, Kind: KindMalformed, Status: resp.StatusCode, Message: "decode data", Err: err}
	}
	return nil
}
