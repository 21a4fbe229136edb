package storage

import "context"

// Area is one tab's view of a Backend.
type Area struct {
	backend Backend
	origin  string
}

// NewArea binds a backend to the tab identified by origin.
func NewArea(b Backend, origin string) *Area {
	return &Area{backend: b, origin: origin}
}

// Origin returns the tab id writes are stamped with.
func (a *Area) Origin() string { return a.origin }

// Get returns the value for key, or "" when absent.
func (a *Area) Get(ctx context.Context, key string) (string, error) {
	v, ok, err := a.backend.Get(ctx, key)
	if err != nil || !ok {
		return "", err
	}
	return v, nil
}

// Set stores value under key. An empty value removes the key.
func (a *Area) Set(ctx context.Context, key, value string) error {
	if value == "" {
		return a.backend.Remove(ctx, a.origin, key)
	}
	return a.backend.Set(ctx, a.origin, key, value)
}

// Remove deletes key.
func (a *Area) Remove(ctx context.Context, key string) error {
	return a.backend.Remove(ctx, a.origin, key)
}

// Clear deletes every key of the origin.
func (a *Area) Clear(ctx context.Context) error {
	return a.backend.Clear(ctx, a.origin)
}

// Watch delivers changes made by other tabs only.
func (a *Area) Watch(fn func(Change)) (stop func(), err error) {
	return a.backend.Watch(func(c Change) {
		if c.Origin == a.origin {
			return
		}
		fn(c)
	})
}
