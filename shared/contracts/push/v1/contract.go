// Package v1 defines the back-office push protocol v1.
//
// A client opens one WebSocket per tab, authenticates with hello, then
// subscribes to destinations. The server delivers each published message as
// a message envelope whose body is the JSON text of the domain message.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Envelope types.
const (
	// TypeHello carries the bearer token (client -> server).
	TypeHello = "hello"
	// TypeHelloAck confirms the handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeSubscribe requests delivery for a destination (client -> server).
	TypeSubscribe = "subscribe"
	// TypeSubscribed confirms a subscription (server -> client).
	TypeSubscribed = "subscribed"

	// TypeMessage delivers one published body (server -> client).
	TypeMessage = "message"

	TypeError = "error"
)

// Destinations.
const (
	DestStaffNotifications = "/topic/staff/notifications"
	DestUserNotifications  = "/user/queue/notifications"
	DestUserPermissions    = "/user/queue/permissions"
	DestUserSessions       = "/user/queue/sessions"
)

// Destinations lists every destination a tab subscribes to, in order.
var Destinations = []string{
	DestStaffNotifications,
	DestUserNotifications,
	DestUserPermissions,
	DestUserSessions,
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case "":
		return errors.New("missing field: type")
	case TypeHello, TypeHelloAck, TypeSubscribe, TypeSubscribed, TypeMessage, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// New builds an envelope around payload.
func New(typ, id string, ts time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts.UTC(), Payload: raw}, nil
}

// Decode parses and validates one frame.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// KnownDestination reports whether d is one of Destinations.
func KnownDestination(d string) bool {
	for _, k := range Destinations {
		if k == d {
			return true
		}
	}
	return false
}
