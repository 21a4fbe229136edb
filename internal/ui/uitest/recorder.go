// Package uitest records toasts and navigations for tests.
package uitest

import (
	"sync"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/ui"
)

// Toast is one recorded message.
type Toast struct {
	Level ui.Level
	Msg   string
}

// Recorder implements ui.Toaster and ui.Navigator.
type Recorder struct {
	mu        sync.Mutex
	toasts    []Toast
	logins    int
	onToLogin func()
}

func (r *Recorder) Toast(level ui.Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, Toast{Level: level, Msg: msg})
}

func (r *Recorder) ToLogin() {
	r.mu.Lock()
	r.logins++
	fn := r.onToLogin
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OnToLogin registers a hook run on every navigation.
func (r *Recorder) OnToLogin(fn func()) {
	r.mu.Lock()
	r.onToLogin = fn
	r.mu.Unlock()
}

func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}

// Levels returns the level of every toast in order.
func (r *Recorder) Levels() []ui.Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ui.Level, len(r.toasts))
	for i, t := range r.toasts {
		out[i] = t.Level
	}
	return out
}

func (r *Recorder) Logins() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logins
}
