package ui

import "log/slog"

// LogToaster writes toasts to a logger. Headless hosts use it.
type LogToaster struct {
	Log *slog.Logger
}

func (t LogToaster) Toast(level Level, msg string) {
	switch level {
	case LevelError:
		t.Log.Error("ui.toast", "msg", msg)
	case LevelWarn:
		t.Log.Warn("ui.toast", "msg", msg)
	default:
		t.Log.Info("ui.toast", "msg", msg)
	}
}
