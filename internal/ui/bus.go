package ui

import "sync"

// Page-local events.
const (
	// EventSessionsChanged asks any session list to refetch.
	EventSessionsChanged = "sessions-changed"
	// EventNotificationsChanged is raised after the notification list changes.
	EventNotificationsChanged = "notifications-changed"
)

// Bus is an in-process publish/subscribe channel scoped to one tab.
// Handlers run synchronously on the publisher's goroutine.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]func(any)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[uint64]func(any))}
}

// On registers fn for event. The returned func removes it.
func (b *Bus) On(event string, fn func(payload any)) (off func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[event] == nil {
		b.subs[event] = make(map[uint64]func(any))
	}
	b.subs[event][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[event], id)
	}
}

// Emit delivers payload to every handler of event.
func (b *Bus) Emit(event string, payload any) {
	b.mu.Lock()
	fns := make([]func(any), 0, len(b.subs[event]))
	for _, fn := range b.subs[event] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}
