package storage

import (
	"context"
	"sync"
)

// Memory is an in-process Backend. Watchers are called synchronously on the
// writer's goroutine after the write is visible, outside the store lock.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[uint64]func(Change)
	nextID   uint64
	closed   bool
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string]string),
		watchers: make(map[uint64]func(Change)),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(ctx context.Context, origin, key, value string) error {
	if value == "" {
		return m.Remove(ctx, origin, key)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	old := m.data[key]
	if old == value {
		m.mu.Unlock()
		return nil
	}
	m.data[key] = value
	watchers := m.snapshotWatchersLocked()
	m.mu.Unlock()

	notify(watchers, Change{Key: key, OldValue: old, NewValue: value, Origin: origin})
	return nil
}

func (m *Memory) Remove(ctx context.Context, origin, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	old, ok := m.data[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.data, key)
	watchers := m.snapshotWatchersLocked()
	m.mu.Unlock()

	notify(watchers, Change{Key: key, OldValue: old, Origin: origin})
	return nil
}

func (m *Memory) Clear(ctx context.Context, origin string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if len(m.data) == 0 {
		m.mu.Unlock()
		return nil
	}
	m.data = make(map[string]string)
	watchers := m.snapshotWatchersLocked()
	m.mu.Unlock()

	notify(watchers, Change{Origin: origin})
	return nil
}

func (m *Memory) Watch(fn func(Change)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	m.nextID++
	id := m.nextID
	m.watchers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}, nil
}

// Close drops all watchers. Further operations return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.watchers = make(map[uint64]func(Change))
	return nil
}

func (m *Memory) snapshotWatchersLocked() []func(Change) {
	out := make([]func(Change), 0, len(m.watchers))
	for _, fn := range m.watchers {
		out = append(out, fn)
	}
	return out
}

func notify(watchers []func(Change), c Change) {
	for _, fn := range watchers {
		fn(c)
	}
}
