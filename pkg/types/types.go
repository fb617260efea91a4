package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ARCHITECTURAL DISCOVERY: Event name constants defined exactly as the service
// emits them. Dotted names are notifications, colon names are room-scoped
// signaling relays. Both styles coexist on the same namespace.
const (
	EventCallInitiated    = "call.initiated"
	EventCallAccepted     = "call.accepted"
	EventCallDeclined     = "call.declined"
	EventCallCanceled     = "call.canceled"
	EventCallEnded        = "call.ended"
	EventCallUpdate       = "call:update"
	EventCallSDP          = "call:sdp"
	EventCallICE          = "call:ice"
	EventWebRTCOffer      = "webrtc.offer"
	EventWebRTCAnswer     = "webrtc.answer"
	EventWebRTCICE        = "webrtc.ice"
	EventTimetableUpdated = "timetable:updated"
	EventAppointments     = "notifications:appointments"
)

// Notification feed events. The service has shipped all three names; a
// listener should accept any of NotificationEvents.
const (
	EventNotificationNew     = "notifications:new"
	EventAppointmentUpdated  = "notifications:appointment_updated"
	EventNotificationCreated = "notification:created"
)

// NotificationEvents lists every name a notification push may arrive under
var NotificationEvents = []string{EventNotificationNew, EventAppointmentUpdated, EventNotificationCreated}

// Client-to-server event names
const (
	EventJoinStaff = "join:staff"
	EventJoinCall  = "join:call"
)

// Role identifies which side of a call an actor plays
type Role string

const (
	RoleClient Role = "client"
	RoleStaff  Role = "staff"
)

// CallState mirrors the lifecycle states carried by call:update
type CallState string

const (
	CallStateCreated  CallState = "created"
	CallStateRinging  CallState = "ringing"
	CallStateAccepted CallState = "accepted"
	CallStateDeclined CallState = "declined"
	CallStateEnded    CallState = "ended"
	CallStateCanceled CallState = "canceled"
	CallStateMissed   CallState = "missed"
)

// Terminal reports whether no further transitions are possible
func (s CallState) Terminal() bool {
	switch s {
	case CallStateDeclined, CallStateEnded, CallStateCanceled, CallStateMissed:
		return true
	}
	return false
}

// Availability values accepted by the staff availability endpoint
const (
	AvailabilityAvailable = "available"
	AvailabilityBusy      = "busy"
	AvailabilityAway      = "away"
	AvailabilityOffline   = "offline"
)

// DefaultOrgID is used when a scenario does not name an organisation
const DefaultOrgID = "default"

// RoomKind is the prefix of a room name
type RoomKind string

const (
	RoomStaff  RoomKind = "staff"
	RoomCall   RoomKind = "call"
	RoomClient RoomKind = "client"
	RoomOrg    RoomKind = "org"
	RoomDept   RoomKind = "dept"
)

// Room is a server-side broadcast scope. Its wire name is "<kind>:<id>".
type Room struct {
	Kind RoomKind
	ID   string
}

func StaffRoom(staffID string) Room { return Room{Kind: RoomStaff, ID: staffID} }
func CallRoom(callID string) Room   { return Room{Kind: RoomCall, ID: callID} }
func ClientRoom(id string) Room     { return Room{Kind: RoomClient, ID: id} }
func OrgRoom(orgID string) Room     { return Room{Kind: RoomOrg, ID: orgID} }

func (r Room) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ParseRoom splits a wire room name into kind and id
func ParseRoom(name string) (Room, error) {
	kind, id, ok := strings.Cut(name, ":")
	if !ok || id == "" {
		return Room{}, fmt.Errorf("%w: %q", ErrInvalidRoom, name)
	}
	r := Room{Kind: RoomKind(kind), ID: id}
	if err := r.Validate(); err != nil {
		return Room{}, err
	}
	return r, nil
}

// JoinEvent returns the client-to-server event that subscribes to this room.
// FUNCTIONAL DISCOVERY: Only staff and call rooms can be joined explicitly;
// client and org rooms are assigned by the server at connect time.
func (r Room) JoinEvent() (string, map[string]string, error) {
	switch r.Kind {
	case RoomStaff:
		return EventJoinStaff, map[string]string{"staffId": r.ID}, nil
	case RoomCall:
		return EventJoinCall, map[string]string{"callId": r.ID}, nil
	}
	return "", nil, fmt.Errorf("%w: %s", ErrRoomNotJoinable, r)
}

// RoomMembership records a successful join request
type RoomMembership struct {
	Room     Room
	JoinedAt time.Time
}

// Event is a single server-to-client push as observed by a session.
// TECHNICAL DISCOVERY: Payload is kept raw so every consumer decodes lazily
// into the typed struct it expects and mismatches surface as structured errors.
type Event struct {
	Seq        uint64          `json:"seq"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// EventRecord is the recorder's append-only entry
type EventRecord = Event

// StaffIDFromEmail derives the staff id the service assigns at login: the
// local part of the email address.
func StaffIDFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
