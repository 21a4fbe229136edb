package v1

import "time"

// ---- Envelope payloads ----

type HelloPayload struct {
	Token string `json:"token"`
}

type HelloAckPayload struct {
	UserID    int64  `json:"userId"`
	SessionID *int64 `json:"sessionId,omitempty"`
}

type SubscribePayload struct {
	Destination string `json:"destination"`
}

type SubscribedPayload struct {
	Destination string `json:"destination"`
}

// MessagePayload carries the body verbatim; it is expected to be JSON text
// but is not guaranteed to be.
type MessagePayload struct {
	Destination string `json:"destination"`
	Body        string `json:"body"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---- Message bodies ----

// Session update kinds.
const (
	SessionRevoked = "SESSION_REVOKED"
	SessionCreated = "SESSION_CREATED"
)

// Notification is one staff notification.
type Notification struct {
	ID        int64     `json:"id" validate:"required,gt=0"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// PermissionUpdate replaces the recipient's permission and role sets.
type PermissionUpdate struct {
	Permissions []string  `json:"permissions" validate:"dive,required"`
	Roles       []string  `json:"roles" validate:"dive,required"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// SessionUpdate reports a session created or revoked for the recipient.
type SessionUpdate struct {
	Type      string    `json:"type" validate:"required,oneof=SESSION_REVOKED SESSION_CREATED"`
	SessionID *int64    `json:"sessionId"`
	UserID    int64     `json:"userId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
