package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is the failure taxonomy every caller of the REST boundary consumes.
type Kind string

const (
	// KindTransient covers network failures, timeouts and 5xx: callers fail open.
	KindTransient Kind = "transient"
	// KindAuthRejected is a 401/403: token refresh or logout belongs to a
	// lower layer, callers take no independent action.
	KindAuthRejected Kind = "auth_rejected"
	// KindRejected is any other definitive refusal (4xx or success=false).
	KindRejected Kind = "rejected"
	// KindMalformed is a response that could not be decoded.
	KindMalformed Kind = "malformed"
)

// Error is produced for every failed call.
type Error struct {
	Op      string
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("api %s: %s (status %d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("api %s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && e.Kind == t.Kind
}

var (
	ErrTransient    = &Error{Kind: KindTransient}
	ErrAuthRejected = &Error{Kind: KindAuthRejected}
	ErrRejected     = &Error{Kind: KindRejected}
	ErrMalformed    = &Error{Kind: KindMalformed}
)

// KindOf classifies err. Errors that did not come from this package are
// transient: an unknown failure never counts as a definitive answer.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthRejected
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	default:
		return KindRejected
	}
}

func transportError(op string, err error) *Error {
	msg := "request failed"
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "timeout"
	case errors.Is(err, context.Canceled):
		msg = "canceled"
	case errors.As(err, &ne) && ne.Timeout():
		msg = "timeout"
	}
	return &Error{Op: op, Kind: KindTransient, Message: msg, Err: err}
}
