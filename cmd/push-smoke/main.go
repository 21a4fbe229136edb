// Package main is a CI-friendly smoke test for session consistency against a
// running backoffice-devserver.
//
// It validates:
//   - login in one tab and rehydration in a second tab sharing storage
//   - push handshake for both tabs
//   - broadcast notification fanout
//   - live permission update
//   - server-side revocation forcing logout in every tab
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/app"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/storage"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/tab"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/ui"
)

const smokePermission = "SMOKE_CHECK"

type smokeTab struct {
	name   string
	tab    *tab.Tab
	logins atomic.Int32
}

func main() {
	var (
		baseURL  string
		origin   string
		username string
		password string
		timeout  time.Duration
		verbose  bool
	)
	fs := pflag.NewFlagSet("push-smoke", pflag.ContinueOnError)
	fs.StringVar(&baseURL, "url", "http://127.0.0.1:8080", "devserver base URL")
	fs.StringVar(&origin, "origin", "http://localhost", "Origin header for the push handshake")
	fs.StringVarP(&username, "username", "u", "admin", "user to log in as")
	fs.StringVarP(&password, "password", "p", "admin-password", "password")
	fs.DurationVar(&timeout, "timeout", 7*time.Second, "per-step timeout")
	fs.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fatalf("flags: %v", err)
	}

	pushURL, err := deriveWSURL(baseURL)
	if err != nil {
		fatalf("invalid --url: %v", err)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	log := app.NewLogger(level, "pretty", os.Stderr)

	root := context.Background()
	backend := storage.NewMemory()
	defer backend.Close()

	a := mustTab(root, "A", backend, baseURL+"/api/v1", pushURL, origin, log)
	defer a.tab.Close()

	user, err := a.tab.Login(root, username, password)
	if err != nil {
		fatalf("A login: %v", err)
	}

	b := mustTab(root, "B", backend, baseURL+"/api/v1", pushURL, origin, log)
	defer b.tab.Close()

	mustWait(timeout, "B rehydrated", func() bool { return b.tab.State().IsAuthenticated() })
	mustWait(timeout, "push connected", func() bool { return a.tab.PushConnected() && b.tab.PushConnected() })
	if verbose {
		fmt.Printf("connected: user=%d A=%s B=%s\n", user.ID, a.tab.ID(), b.tab.ID())
	}

	// Subscriptions are acknowledged asynchronously; a broadcast sent before
	// the gateway processed them is not replayed, so retry with a fresh title.
	var title string
	mustWait(timeout, "broadcast notification", func() bool {
		title = fmt.Sprintf("smoke-%d", time.Now().UnixNano())
		mustAdmin(root, baseURL, http.MethodPost, "/admin/notifications/broadcast",
			map[string]string{"title": title, "message": "push smoke", "type": "INFO"}, timeout)
		return waitUntil(time.Second, func() bool { return hasNotification(a.tab, title) && hasNotification(b.tab, title) })
	})

	perms := append(a.tab.State().Snapshot().Permissions.Sorted(), smokePermission)
	mustAdmin(root, baseURL, http.MethodPut, fmt.Sprintf("/admin/users/%d/permissions", user.ID),
		map[string]any{"permissions": perms, "roles": a.tab.State().Snapshot().Roles.Sorted(), "reason": "push smoke"}, timeout)
	for _, st := range []*smokeTab{a, b} {
		mustWait(timeout, st.name+" permission", func() bool { return st.tab.State().HasPermission(smokePermission) })
	}

	sessionID := mustCurrentSession(root, a, timeout)
	mustAdmin(root, baseURL, http.MethodPost, fmt.Sprintf("/admin/sessions/%d/revoke", sessionID),
		map[string]string{"reason": "push smoke"}, timeout)
	for _, st := range []*smokeTab{a, b} {
		mustWait(timeout, st.name+" forced logout", func() bool {
			return !st.tab.State().IsAuthenticated() && st.logins.Load() > 0
		})
	}

	fmt.Printf("OK: user=%d session=%d notification=%q permission=%s revoked\n", user.ID, sessionID, title, smokePermission)
}

func mustTab(ctx context.Context, name string, backend storage.Backend, apiURL, pushURL, origin string, log *slog.Logger) *smokeTab {
	st := &smokeTab{name: name}
	t, err := tab.New(tab.Config{
		Backend:     backend,
		APIURL:      apiURL,
		PushURL:     pushURL,
		PushOrigin:  origin,
		LogoutDelay: 100 * time.Millisecond,
		Navigator:   ui.NavigatorFunc(func() { st.logins.Add(1) }),
		Log:         log.With("smoke_tab", name),
	})
	if err != nil {
		fatalf("%s: new tab: %v", name, err)
	}
	if err := t.Start(ctx); err != nil {
		fatalf("%s: start: %v", name, err)
	}
	st.tab = t
	return st
}

func mustCurrentSession(ctx context.Context, st *smokeTab, timeout time.Duration) int64 {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sessions, err := st.tab.Sessions(ctx)
	if err != nil {
		fatalf("%s: list sessions: %v", st.name, err)
	}
	for _, s := range sessions {
		if s.IsCurrent {
			return s.ID
		}
	}
	fatalf("%s: no current session among %d", st.name, len(sessions))
	return 0
}

func mustAdmin(ctx context.Context, baseURL, method, path string, body any, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := json.Marshal(body)
	if err != nil {
		fatalf("%s %s: marshal: %v", method, path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, bytes.NewReader(raw))
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		fatalf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

func mustWait(timeout time.Duration, what string, cond func() bool) {
	if !waitUntil(timeout, cond) {
		fatalf("timeout waiting for %s", what)
	}
}

func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func hasNotification(t *tab.Tab, title string) bool {
	for _, n := range t.Notifications().Notifications() {
		if n.Title == title {
			return true
		}
	}
	return false
}

func deriveWSURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("scheme must be http or https (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
