package api

import (
	"context"
	"net/http"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/identity"
)

// Login exchanges credentials for a grant.
func (c *Client) Login(ctx context.Context, creds identity.Credentials) (identity.Grant, error) {
	var g identity.Grant
	err := c.call(ctx, "login", http.MethodPost, "/auth/login", false, creds, &g)
	return g, err
}

// CurrentUser fetches the authenticated user together with permissions and
// roles. Tokens in the returned grant are empty.
func (c *Client) CurrentUser(ctx context.Context) (identity.Grant, error) {
	var g identity.Grant
	err := c.call(ctx, "current_user", http.MethodGet, "/auth/me", true, nil, &g)
	return g, err
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh exchanges a refresh token for a new grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (identity.Grant, error) {
	var g identity.Grant
	err := c.call(ctx, "refresh", http.MethodPost, "/auth/refresh", false, refreshRequest{RefreshToken: refreshToken}, &g)
	return g, err
}

// Logout ends the current session server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, "logout", http.MethodPost, "/auth/logout", true, nil, nil)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return c.call(ctx, "change_password", http.MethodPost, "/auth/change-password", true,
		changePasswordRequest{CurrentPassword: current, NewPassword: next}, nil)
}
