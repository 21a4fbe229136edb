package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/api"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/auth/logout"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/auth/state"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/identity"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/metrics"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/push"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/ui"
	pushv1 "github.com/shavkatbegmatov/jalyuzi-epr-sub002/shared/contracts/push/v1"
)

// Messages.
const (
	MsgPermissionsUpdated  = "Your permissions were updated. Some actions may have changed."
	MsgOwnSessionRevoked   = "This session was ended from another device. Please sign in again."
	MsgOtherSessionRevoked = "One of your other sessions was ended."
	MsgSessionCreated      = "A new sign-in to your account was detected."
	MsgMarkReadFailed      = "Could not mark the notification as read."
	MsgMarkAllReadFailed   = "Could not mark notifications as read."
	MsgDeleteFailed        = "Could not delete the notification."
)

// API is the subset of the REST client the coordinator calls.
type API interface {
	ListNotifications(ctx context.Context) ([]api.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id int64) error
	ValidateSession(ctx context.Context) (api.Validation, error)
}

// Auth is the subset of the auth container the coordinator drives.
type Auth interface {
	StoredUser(ctx context.Context) (identity.User, bool, error)
	Tokens(ctx context.Context) (access, refresh string, err error)
	ReplaceAuth(ctx context.Context, user identity.User, access, refresh string, permissions, roles []string) error
}

// Validator answers whether the tab's session is still valid. The tab's
// monitor satisfies it and shares its in-flight guard with periodic checks.
type Validator interface {
	ValidateSession(ctx context.Context) (api.Validation, error)
}

// Forcer schedules a forced logout.
type Forcer interface {
	Force(reason string, level ui.Level, msg string) bool
}

type Config struct {
	API       API
	Validator Validator // revalidates on SESSION_REVOKED; nil means API
	Auth      Auth
	Intent    *state.LogoutIntent
	Forcer    Forcer
	Toaster   ui.Toaster
	Bus       *ui.Bus

	MaxItems    int
	CallTimeout time.Duration

	// TrustSessionID skips the validation round-trip on SESSION_REVOKED when
	// the access token's sid claim shows the revoked session is another one.
	TrustSessionID bool

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

type Coordinator struct {
	cfg Config

	mu   sync.Mutex
	list list
}

func New(cfg Config) *Coordinator {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Bus == nil {
		cfg.Bus = ui.NewBus()
	}
	if cfg.Validator == nil {
		cfg.Validator = cfg.API
	}
	return &Coordinator{cfg: cfg}
}

// Handlers wires the coordinator to a push client.
func (c *Coordinator) Handlers() push.Handlers {
	return push.Handlers{
		OnNotification:     c.HandleNotification,
		OnPermissionUpdate: c.HandlePermissionUpdate,
		OnSessionUpdate:    c.HandleSessionUpdate,
	}
}

// Notifications returns a copy of the list, newest first.
func (c *Coordinator) Notifications() []api.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.clone().items
}

// Unread returns the number of unread notifications.
func (c *Coordinator) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.unread
}

// Reset empties the list.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.list = list{}
	c.mu.Unlock()
}

// Ingest merges items into the list. Items already present are replaced.
func (c *Coordinator) Ingest(items ...api.Notification) int {
	c.mu.Lock()
	next, added := c.list.merge(c.cfg.MaxItems, items...)
	c.list = next
	c.mu.Unlock()

	c.cfg.Bus.Emit(ui.EventNotificationsChanged, nil)
	return added
}

// HandleNotification ingests one pushed notification.
func (c *Coordinator) HandleNotification(n pushv1.Notification) {
	if c.Ingest(n) > 0 && c.cfg.Toaster != nil && n.Title != "" {
		c.cfg.Toaster.Toast(ui.LevelInfo, n.Title)
	}
}

// Refresh reconciles the list with the server. Failures are logged only.
func (c *Coordinator) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	items, err := c.cfg.API.ListNotifications(ctx)
	if err != nil {
		c.cfg.Log.Warn("notify.refresh.fail", "kind", api.KindOf(err), "err", err)
		return err
	}

	c.mu.Lock()
	next, _ := list{}.merge(c.cfg.MaxItems, reverse(items)...)
	c.list = next
	c.mu.Unlock()

	c.cfg.Bus.Emit(ui.EventNotificationsChanged, nil)
	return nil
}

// MarkRead marks one notification read, optimistically.
func (c *Coordinator) MarkRead(ctx context.Context, id int64) error {
	return c.optimistic(ctx, "mark_read", MsgMarkReadFailed,
		func(l list) (list, bool) { return l.markRead(id) },
		func(ctx context.Context) error { return c.cfg.API.MarkNotificationRead(ctx, id) })
}

// MarkAllRead marks every notification read, optimistically.
func (c *Coordinator) MarkAllRead(ctx context.Context) error {
	return c.optimistic(ctx, "mark_all_read", MsgMarkAllReadFailed,
		func(l list) (list, bool) { return l.markAllRead(), true },
		c.cfg.API.MarkAllNotificationsRead)
}

// Delete removes one notification, optimistically.
func (c *Coordinator) Delete(ctx context.Context, id int64) error {
	return c.optimistic(ctx, "delete", MsgDeleteFailed,
		func(l list) (list, bool) { return l.remove(id) },
		func(ctx context.Context) error { return c.cfg.API.DeleteNotification(ctx, id) })
}

// optimistic applies mutate locally, calls the server, and restores the
// exact previous list when the call fails.
func (c *Coordinator) optimistic(
	ctx context.Context,
	op, failMsg string,
	mutate func(list) (list, bool),
	call func(context.Context) error,
) error {
	c.mu.Lock()
	prev := c.list
	next, changed := mutate(prev)
	c.list = next
	c.mu.Unlock()

	if changed {
		c.cfg.Bus.Emit(ui.EventNotificationsChanged, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	if err := call(ctx); err != nil {
		c.mu.Lock()
		c.list = prev
		c.mu.Unlock()

		c.cfg.Metrics.Rollback(op)
		c.cfg.Log.Warn("notify.rollback", "op", op, "kind", api.KindOf(err), "err", err)
		if c.cfg.Toaster != nil {
			c.cfg.Toaster.Toast(ui.LevelError, failMsg)
		}
		c.cfg.Bus.Emit(ui.EventNotificationsChanged, nil)
		return fmt.Errorf("notify %s: %w", op, err)
	}
	return nil
}

// HandlePermissionUpdate replaces the permission and role sets while keeping
// the stored user and tokens.
func (c *Coordinator) HandlePermissionUpdate(u pushv1.PermissionUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
	defer cancel()

	user, ok, err := c.cfg.Auth.StoredUser(ctx)
	if err != nil || !ok {
		c.cfg.Log.Warn("notify.permissions.skip", "reason", "missing user", "err", err)
		return
	}
	access, refresh, err := c.cfg.Auth.Tokens(ctx)
	if err != nil || access == "" || refresh == "" {
		c.cfg.Log.Warn("notify.permissions.skip", "reason", "missing token", "err", err)
		return
	}

	if err := c.cfg.Auth.ReplaceAuth(ctx, user, access, refresh, u.Permissions, u.Roles); err != nil {
		if errors.Is(err, state.ErrStaleToken) {
			c.cfg.Log.Warn("notify.permissions.skip", "reason", "token changed")
			return
		}
		c.cfg.Log.Warn("notify.permissions.fail", "err", err)
		return
	}

	c.cfg.Log.Info("notify.permissions.applied", "permissions", len(u.Permissions), "roles", len(u.Roles), "reason", u.Reason)
	if c.cfg.Toaster != nil {
		c.cfg.Toaster.Toast(ui.LevelInfo, MsgPermissionsUpdated)
	}
}

// HandleSessionUpdate reacts to a session created or revoked for this user.
func (c *Coordinator) HandleSessionUpdate(u pushv1.SessionUpdate) {
	switch u.Type {
	case pushv1.SessionCreated:
		c.info(MsgSessionCreated)
		c.cfg.Bus.Emit(ui.EventSessionsChanged, u)
	case pushv1.SessionRevoked:
		c.onRevoked(u)
	default:
		c.cfg.Log.Warn("notify.session.unknown", "type", u.Type)
	}
}

func (c *Coordinator) onRevoked(u pushv1.SessionUpdate) {
	if c.cfg.Intent != nil && c.cfg.Intent.Consume() {
		c.cfg.Log.Debug("notify.session.revoked.own_logout")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
	defer cancel()

	if c.cfg.TrustSessionID && u.SessionID != nil {
		access, _, err := c.cfg.Auth.Tokens(ctx)
		if sid, ok := sessionIDFromToken(access); err == nil && ok && sid != *u.SessionID {
			c.cfg.Log.Debug("notify.session.revoked.other", "session_id", *u.SessionID, "validated", false)
			c.foreignRevoked(u)
			return
		}
	}

	v, err := c.cfg.Validator.ValidateSession(ctx)
	if err != nil {
		// Fail open: an inconclusive answer never logs the user out.
		c.cfg.Log.Warn("notify.session.validate.fail", "kind", api.KindOf(err), "err", err)
		return
	}
	if !v.Valid {
		c.cfg.Log.Info("notify.session.revoked.own", "reason", u.Reason)
		c.cfg.Forcer.Force(logout.ReasonSessionRevoked, ui.LevelWarn, MsgOwnSessionRevoked)
		return
	}
	c.cfg.Log.Debug("notify.session.revoked.other", "validated", true)
	c.foreignRevoked(u)
}

func (c *Coordinator) foreignRevoked(u pushv1.SessionUpdate) {
	c.info(MsgOtherSessionRevoked)
	c.cfg.Bus.Emit(ui.EventSessionsChanged, u)
}

func (c *Coordinator) info(msg string) {
	if c.cfg.Toaster != nil {
		c.cfg.Toaster.Toast(ui.LevelInfo, msg)
	}
}

func reverse(items []api.Notification) []api.Notification {
	out := make([]api.Notification, len(items))
	for i, n := range items {
		out[len(items)-1-i] = n
	}
	return out
}
