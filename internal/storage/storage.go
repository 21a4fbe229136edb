package storage

import (
	"context"
	"errors"
)

// Keys shared by all tabs.
const (
	KeyAccessToken   = "access_token"
	KeyRefreshToken  = "refresh_token"
	KeyUser          = "user"
	KeyPermissions   = "permissions"
	KeyRoles         = "roles"
	KeyAuthenticated = "authenticated"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage: closed")

// Change describes one mutation of the shared store.
//
// An empty value means the key is absent. A Clear produces a single Change
// whose Key, OldValue and NewValue are all empty.
//
// Backends that deliver changes across processes may replace values with
// opaque fingerprints; equal values always map to equal fingerprints.
type Change struct {
	Key      string
	OldValue string
	NewValue string
	Origin   string
}

// Cleared reports whether the change is a whole-store clear.
func (c Change) Cleared() bool {
	return c.Key == "" && c.OldValue == "" && c.NewValue == ""
}

// Backend is the store shared by every tab of an origin.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, origin, key, value string) error
	Remove(ctx context.Context, origin, key string) error
	Clear(ctx context.Context, origin string) error

	// Watch registers fn for every change, including the caller's own.
	// fn runs on the writer's goroutine (or the backend's listener goroutine)
	// and must not block.
	Watch(fn func(Change)) (stop func(), err error)

	Close() error
}
