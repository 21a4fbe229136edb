package api

import (
	"context"
	"net/http"
	"strconv"

	pushv1 "github.com/shavkatbegmatov/jalyuzi-epr-sub002/shared/contracts/push/v1"
)

// Notification is the REST and push representation of a staff notification.
type Notification = pushv1.Notification

func (c *Client) ListNotifications(ctx context.Context) ([]Notification, error) {
	var out []Notification
	err := c.call(ctx, "list_notifications", http.MethodGet, "/notifications", true, nil, &out)
	return out, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.call(ctx, "mark_notification_read", http.MethodPut, "/notifications/"+strconv.FormatInt(id, 10)+"/read", true, nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.call(ctx, "mark_all_notifications_read", http.MethodPut, "/notifications/read-all", true, nil, nil)
}

func (c *Client) DeleteNotification(ctx context.Context, id int64) error {
	return c.call(ctx, "delete_notification", http.MethodDelete, "/notifications/"+strconv.FormatInt(id, 10), true, nil, nil)
}
