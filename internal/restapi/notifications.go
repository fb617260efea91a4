package restapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"callprobe/pkg/types"
)

// ListNotifications returns the caller's notification feed, newest first.
// unreadOnly asks for the unread view instead.
// FUNCTIONAL DISCOVERY: The feed comes back as a bare array on some service
// versions and under notifications, data or items on others.
func (c *Client) ListNotifications(ctx context.Context, token string, unreadOnly bool) ([]types.Notification, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	path := "/api/notifications"
	if unreadOnly {
		path += "/unread"
	}
	resp, err := c.Do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	list := feedOf(gjson.ParseBytes(resp.Body))
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: notification reply has no list", ErrInvalidResponse)
	}
	var out []types.Notification
	for _, entry := range list.Array() {
		if !entry.IsObject() {
			return nil, fmt.Errorf("%w: notification entry is %s", ErrInvalidResponse, entry.Type)
		}
		out = append(out, notificationOf(entry))
	}
	return out, nil
}

// CreateNotification adds a notification to the caller's own feed
func (c *Client) CreateNotification(ctx context.Context, token string, n types.Notification) (*types.Notification, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	resp, err := c.Do(ctx, http.MethodPost, "/api/notifications", token, n)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	created := notificationOf(entryOf(resp))
	if created.ID == "" {
		return nil, fmt.Errorf("%w: notification reply missing id", ErrInvalidResponse)
	}
	return &created, nil
}

// MarkNotificationRead flags one notification as read. Marking an already
// read notification succeeds.
func (c *Client) MarkNotificationRead(ctx context.Context, token, id string) (*types.Notification, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if id == "" {
		return nil, fmt.Errorf("mark notification read: id is required")
	}
	resp, err := c.Do(ctx, http.MethodPatch, "/api/notifications/"+url.PathEscape(id)+"/read", token, nil)
	if err != nil {
		return nil, fmt.Errorf("mark notification %s read: %w", id, err)
	}
	updated := notificationOf(entryOf(resp))
	if updated.ID == "" {
		updated.ID = id
		updated.Read = true
	}
	return &updated, nil
}

func feedOf(body gjson.Result) gjson.Result {
	if body.IsArray() {
		return body
	}
	for _, key := range []string{"notifications", "data", "items"} {
		if v := body.Get(key); v.IsArray() {
			return v
		}
	}
	return gjson.Result{}
}

func entryOf(resp *Response) gjson.Result {
	if n := resp.Get("notification"); n.IsObject() {
		return n
	}
	return gjson.ParseBytes(resp.Body)
}

// notificationOf folds the id and read-flag spellings seen across versions
func notificationOf(entry gjson.Result) types.Notification {
	n := types.Notification{
		StaffID:   entry.Get("staffId").String(),
		Type:      entry.Get("type").String(),
		Title:     entry.Get("title").String(),
		Message:   entry.Get("message").String(),
		CallID:    entry.Get("callId").String(),
		CreatedAt: entry.Get("createdAt").String(),
	}
	for _, path := range []string{"id", "_id", "notificationId"} {
		if v := entry.Get(path).String(); v != "" {
			n.ID = v
			break
		}
	}
	for _, path := range []string{"read", "isRead"} {
		if v := entry.Get(path); v.Exists() {
			n.Read = v.Bool()
			break
		}
	}
	return n
}
