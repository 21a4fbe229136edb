// Package ui is the surface a tab exposes to its host: transient messages,
// navigation, lifecycle signals and a page-local event bus.
package ui

// Level grades a toast.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Toaster shows transient user-facing messages.
type Toaster interface {
	Toast(level Level, msg string)
}

// Navigator moves the tab to an entry point.
type Navigator interface {
	ToLogin()
}

// Signal is a lifecycle event raised by the host.
type Signal string

const (
	SignalVisible Signal = "visible"
	SignalFocus   Signal = "focus"
)

// ToasterFunc adapts a function to Toaster.
type ToasterFunc func(level Level, msg string)

func (f ToasterFunc) Toast(level Level, msg string) { f(level, msg) }

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) ToLogin() { f() }
