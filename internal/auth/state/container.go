package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/identity"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/storage"
)

var (
	// ErrMissingToken is returned by SetAuth when the access token is empty.
	ErrMissingToken = errors.New("state: missing access token")
	// ErrStaleToken is returned by ReplaceAuth when the stored access token
	// no longer matches the one the caller read.
	ErrStaleToken = errors.New("state: access token changed")
)

const authenticatedMarker = "true"

// Container is one tab's Auth State Container.
type Container struct {
	area *storage.Area
	log  *slog.Logger

	// writeMu serializes SetAuth, Logout and Load.
	writeMu sync.Mutex

	mu   sync.RWMutex
	snap Snapshot

	subMu   sync.Mutex
	nextSub uint64
	subs    map[uint64]func(Snapshot)
}

// New constructs a logged-out container backed by area. Call Load to
// rehydrate from storage.
func New(area *storage.Area, log *slog.Logger) *Container {
	if log == nil {
		log = slog.Default()
	}
	return &Container{
		area: area,
		log:  log,
		snap: LoggedOut(),
		subs: make(map[uint64]func(Snapshot)),
	}
}

// Snapshot returns the current snapshot.
func (c *Container) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Container) IsAuthenticated() bool { return c.Snapshot().IsAuthenticated }

func (c *Container) HasPermission(code string) bool {
	return c.Snapshot().Permissions.Has(code)
}

// HasAnyPermission is false for an empty argument list.
func (c *Container) HasAnyPermission(codes ...string) bool {
	p := c.Snapshot().Permissions
	for _, code := range codes {
		if p.Has(code) {
			return true
		}
	}
	return false
}

// HasAllPermissions is true for an empty argument list.
func (c *Container) HasAllPermissions(codes ...string) bool {
	p := c.Snapshot().Permissions
	for _, code := range codes {
		if !p.Has(code) {
			return false
		}
	}
	return true
}

func (c *Container) HasRole(code string) bool {
	return c.Snapshot().Roles.Has(code)
}

// Subscribe registers fn for every effective change. fn runs synchronously on
// the mutating goroutine and must not call SetAuth or Logout.
func (c *Container) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// Tokens reads both tokens from storage.
func (c *Container) Tokens(ctx context.Context) (access, refresh string, err error) {
	access, err = c.area.Get(ctx, storage.KeyAccessToken)
	if err != nil {
		return "", "", fmt.Errorf("state: read access token: %w", err)
	}
	refresh, err = c.area.Get(ctx, storage.KeyRefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("state: read refresh token: %w", err)
	}
	return access, refresh, nil
}

// AccessToken reads the access token from storage. It is "" when absent.
func (c *Container) AccessToken(ctx context.Context) (string, error) {
	return c.area.Get(ctx, storage.KeyAccessToken)
}

// StoredUser reads the persisted user, reporting false when absent or unreadable.
func (c *Container) StoredUser(ctx context.Context) (identity.User, bool, error) {
	raw, err := c.area.Get(ctx, storage.KeyUser)
	if err != nil {
		return identity.User{}, false, fmt.Errorf("state: read user: %w", err)
	}
	if raw == "" {
		return identity.User{}, false, nil
	}
	var u identity.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		c.log.Warn("state.user.decode.fail", "err", err)
		return identity.User{}, false, nil
	}
	return u, true, nil
}

// SetAuth replaces the whole authorization state. Permissions and roles are
// replaced, never merged. It serves both fresh logins and pushed permission
// updates that reuse the tokens already in storage.
func (c *Container) SetAuth(ctx context.Context, user identity.User, access, refresh string, permissions, roles []string) error {
	return c.setAuth(ctx, false, user, access, refresh, permissions, roles)
}

// ReplaceAuth is SetAuth for callers that read the tokens earlier: it fails
// with ErrStaleToken when the stored access token is no longer access, so a
// logout that raced the caller is never undone.
func (c *Container) ReplaceAuth(ctx context.Context, user identity.User, access, refresh string, permissions, roles []string) error {
	return c.setAuth(ctx, true, user, access, refresh, permissions, roles)
}

func (c *Container) setAuth(ctx context.Context, conditional bool, user identity.User, access, refresh string, permissions, roles []string) error {
	if access == "" {
		return ErrMissingToken
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if conditional {
		current, err := c.area.Get(ctx, storage.KeyAccessToken)
		if err != nil {
			return fmt.Errorf("state: read access token: %w", err)
		}
		if current != access {
			return ErrStaleToken
		}
	}

	perms := NewSet(permissions...)
	rls := NewSet(roles...)

	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("state: encode user: %w", err)
	}
	permsJSON, _ := perms.MarshalJSON()
	rolesJSON, _ := rls.MarshalJSON()

	// Tokens last: siblings treat a token transition as the login signal.
	writes := []struct{ key, value string }{
		{storage.KeyUser, string(userJSON)},
		{storage.KeyPermissions, string(permsJSON)},
		{storage.KeyRoles, string(rolesJSON)},
		{storage.KeyRefreshToken, refresh},
		{storage.KeyAccessToken, access},
		{storage.KeyAuthenticated, authenticatedMarker},
	}
	for _, w := range writes {
		if err := c.area.Set(ctx, w.key, w.value); err != nil {
			return fmt.Errorf("state: write %s: %w", w.key, err)
		}
	}

	next := Snapshot{
		User:                user,
		AccessTokenPresent:  true,
		RefreshTokenPresent: refresh != "",
		Permissions:         perms,
		Roles:               rls,
		IsAuthenticated:     true,
	}
	c.replace(next)
	c.log.Debug("state.set_auth", "user_id", user.ID, "permissions", perms.Len(), "roles", rls.Len())
	return nil
}

// Logout erases the authorization keys from storage and resets the snapshot.
// It is idempotent; subscribers are notified only when the tab was
// authenticated. Storage errors are returned after the snapshot is reset.
func (c *Container) Logout(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	errs := c.removeAuthKeys(ctx)

	c.mu.RLock()
	was := c.snap.IsAuthenticated
	c.mu.RUnlock()
	if was {
		c.replace(LoggedOut())
		c.log.Debug("state.logout")
	}
	return errors.Join(errs...)
}

// removeAuthKeys erases every authorization key, tokens first. c.writeMu
// must be held.
func (c *Container) removeAuthKeys(ctx context.Context) []error {
	var errs []error
	for _, key := range []string{
		storage.KeyAccessToken,
		storage.KeyRefreshToken,
		storage.KeyUser,
		storage.KeyPermissions,
		storage.KeyRoles,
		storage.KeyAuthenticated,
	} {
		if err := c.area.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("state: remove %s: %w", key, err))
		}
	}
	return errs
}

// Load rehydrates the snapshot from storage. A persisted state that claims to
// be authenticated without an access token, or without a readable user, is
// treated as corrupted and reset to logged out.
func (c *Container) Load(ctx context.Context) (Snapshot, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	read := func(key string) (string, error) {
		v, err := c.area.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("state: read %s: %w", key, err)
		}
		return v, nil
	}

	marker, err := read(storage.KeyAuthenticated)
	if err != nil {
		return Snapshot{}, err
	}
	access, err := read(storage.KeyAccessToken)
	if err != nil {
		return Snapshot{}, err
	}
	refresh, err := read(storage.KeyRefreshToken)
	if err != nil {
		return Snapshot{}, err
	}
	userRaw, err := read(storage.KeyUser)
	if err != nil {
		return Snapshot{}, err
	}

	var user identity.User
	userOK := userRaw != "" && json.Unmarshal([]byte(userRaw), &user) == nil && !user.IsZero()

	if access == "" || !userOK {
		// A user without a token is what a login in another tab looks like
		// halfway through; only a marker or a token marks a broken state.
		if marker != "" || access != "" {
			c.log.Warn("state.load.corrupt", "has_token", access != "", "has_user", userOK)
			if err := errors.Join(c.removeAuthKeys(ctx)...); err != nil {
				c.log.Warn("state.load.heal.fail", "err", err)
			}
		}
		c.replace(LoggedOut())
		return LoggedOut(), nil
	}

	next := Snapshot{
		User:                user,
		AccessTokenPresent:  true,
		RefreshTokenPresent: refresh != "",
		Permissions:         c.readSet(ctx, storage.KeyPermissions),
		Roles:               c.readSet(ctx, storage.KeyRoles),
		IsAuthenticated:     true,
	}
	c.replace(next)
	return next, nil
}

func (c *Container) readSet(ctx context.Context, key string) Set {
	raw, err := c.area.Get(ctx, key)
	if err != nil || raw == "" {
		return NewSet()
	}
	var s Set
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		c.log.Warn("state.load.set.decode.fail", "key", key, "err", err)
		return NewSet()
	}
	return s
}

func (c *Container) replace(next Snapshot) {
	c.mu.Lock()
	c.snap = next
	c.mu.Unlock()

	c.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}
