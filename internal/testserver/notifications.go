package testserver

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"callprobe/pkg/types"
)

// Notification types the fake service produces
const (
	NotificationCall   = "call"
	NotificationManual = "manual"
)

// Notify adds n to staffID's feed and pushes notifications:new to the
// staff room. The stored copy is returned.
func (c *callCenter) Notify(staffID string, n types.Notification) types.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifyLocked(staffID, types.EventNotificationNew, n)
}

// notifyLocked stores a notification and emits it under event. c.mu must be held.
func (c *callCenter) notifyLocked(staffID, event string, n types.Notification) types.Notification {
	n.ID = uuid.NewString()
	n.StaffID = staffID
	n.Read = false
	if n.Type == "" {
		n.Type = NotificationManual
	}
	n.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	stored := n
	c.notifications[staffID] = append(c.notifications[staffID], &stored)
	c.emit([]string{types.StaffRoom(staffID).String()}, event, n)
	log.Printf("[FakeCenter] notification %s for staff=%s via %s", n.ID, staffID, event)
	return n
}

// Notifications lists staffID's feed, newest first
func (c *callCenter) Notifications(staffID string, unreadOnly bool) []types.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()

	feed := c.notifications[staffID]
	out := make([]types.Notification, 0, len(feed))
	for i := len(feed) - 1; i >= 0; i-- {
		if unreadOnly && feed[i].Read {
			continue
		}
		out = append(out, *feed[i])
	}
	return out
}

// MarkNotificationRead flags one of staffID's notifications as read.
// Another staff member's notification is reported as not found.
func (c *callCenter) MarkNotificationRead(staffID, id string) (types.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.notifications[staffID] {
		if n.ID == id {
			n.Read = true
			return *n, nil
		}
	}
	return types.Notification{}, fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
}

// callNotification is the feed entry a ringing call leaves for each recipient
func callNotification(call *Call) types.Notification {
	caller := call.ClientName
	if caller == "" {
		caller = call.ClientID
	}
	msg := caller + " is calling"
	if call.Reason != "" {
		msg += ": " + call.Reason
	}
	return types.Notification{
		Type:    NotificationCall,
		Title:   "Incoming call",
		Message: msg,
		CallID:  call.ID,
	}
}
