package push

import (
	"encoding/json"
	"fmt"

	pushv1 "github.com/shavkatbegmatov/jalyuzi-epr-sub002/shared/contracts/push/v1"
)

// dispatch decodes one frame and hands it to the matching handler. Frames
// that cannot be decoded are logged and dropped.
func (c *Client) dispatch(gen uint64, data []byte) {
	env, err := pushv1.Decode(data)
	if err != nil {
		c.drop("bad_envelope", err)
		return
	}

	switch env.Type {
	case pushv1.TypeMessage:
	case pushv1.TypeSubscribed:
		var p pushv1.SubscribedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			c.cfg.Log.Debug("push.subscribed", "destination", p.Destination)
		}
		return
	case pushv1.TypeError:
		var p pushv1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		c.cfg.Log.Warn("push.server.error", "code", p.Code, "message", p.Message)
		return
	default:
		c.drop("unexpected_type", fmt.Errorf("type %q", env.Type))
		return
	}

	var msg pushv1.MessagePayload
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		c.drop("bad_payload", err)
		return
	}
	if !pushv1.KnownDestination(msg.Destination) {
		c.drop("unknown_destination", fmt.Errorf("destination %q", msg.Destination))
		return
	}

	h, ok := c.current(gen)
	if !ok {
		return
	}
	c.cfg.Metrics.PushMessage(msg.Destination)

	switch msg.Destination {
	case pushv1.DestStaffNotifications, pushv1.DestUserNotifications:
		var n pushv1.Notification
		if !c.decodeBody(msg, &n) || h.OnNotification == nil {
			return
		}
		c.safeCall("on_notification", func() { h.OnNotification(n) })

	case pushv1.DestUserPermissions:
		var u pushv1.PermissionUpdate
		if !c.decodeBody(msg, &u) || h.OnPermissionUpdate == nil {
			return
		}
		c.safeCall("on_permission_update", func() { h.OnPermissionUpdate(u) })

	case pushv1.DestUserSessions:
		var u pushv1.SessionUpdate
		if !c.decodeBody(msg, &u) || h.OnSessionUpdate == nil {
			return
		}
		c.safeCall("on_session_update", func() { h.OnSessionUpdate(u) })
	}
}

func (c *Client) decodeBody(msg pushv1.MessagePayload, out any) bool {
	if err := json.Unmarshal([]byte(msg.Body), out); err != nil {
		c.drop("bad_body", fmt.Errorf("%s: %w", msg.Destination, err))
		return false
	}
	if err := c.validate.Struct(out); err != nil {
		c.drop("invalid_body", fmt.Errorf("%s: %w", msg.Destination, err))
		return false
	}
	return true
}

func (c *Client) drop(reason string, err error) {
	c.cfg.Metrics.PushDropped(reason)
	c.cfg.Log.Warn("push.frame.drop", "reason", reason, "err", err)
}

// safeCall runs a handler, turning a panic into a log line.
func (c *Client) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.cfg.Log.Error("push.handler.panic", "handler", name, "panic", r)
		}
	}()
	fn()
}
