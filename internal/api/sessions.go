package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/identity"
)

// Validation is the server's verdict on the caller's own session.
type Validation struct {
	Valid     bool   `json:"valid"`
	SessionID *int64 `json:"sessionId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ValidateSession asks whether the current session is still valid.
func (c *Client) ValidateSession(ctx context.Context) (Validation, error) {
	var v Validation
	err := c.call(ctx, "validate_session", http.MethodGet, "/sessions/validate", true, nil, &v)
	return v, err
}

// ListSessions returns the caller's active sessions.
func (c *Client) ListSessions(ctx context.Context) ([]identity.Session, error) {
	var out []identity.Session
	err := c.call(ctx, "list_sessions", http.MethodGet, "/sessions", true, nil, &out)
	return out, err
}

// RevokeSession revokes one of the caller's sessions.
func (c *Client) RevokeSession(ctx context.Context, id int64) error {
	return c.call(ctx, "revoke_session", http.MethodDelete, "/sessions/"+strconv.FormatInt(id, 10), true, nil, nil)
}

type revokeOthersResult struct {
	Revoked int `json:"revoked"`
}

// RevokeOtherSessions revokes every session except the current one and
// returns how many were revoked.
func (c *Client) RevokeOtherSessions(ctx context.Context) (int, error) {
	var r revokeOthersResult
	err := c.call(ctx, "revoke_other_sessions", http.MethodPost, "/sessions/revoke-others", true, nil, &r)
	return r.Revoked, err
}
