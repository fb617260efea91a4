package types

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// since validation runs on every emitted and received frame
var (
	roomIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_.@-]{1,128}$`)
	eventNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,100}$`)
)

const maxPayloadBytes = 1 << 20

// Validate ensures the room has a known kind and a usable id
func (r Room) Validate() error {
	switch r.Kind {
	case RoomStaff, RoomCall, RoomClient, RoomOrg, RoomDept:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRoom, r.Kind)
	}
	if !roomIDRegex.MatchString(r.ID) {
		return fmt.Errorf("%w: bad id %q", ErrInvalidRoom, r.ID)
	}
	return nil
}

// Validate checks the shape of an observed event
func (e *Event) Validate() error {
	if !IsValidEventName(e.Name) {
		return ErrInvalidEventName
	}
	if len(e.Payload) > maxPayloadBytes {
		return ErrPayloadTooLarge
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return &ProtocolMismatchError{Event: e.Name, Err: fmt.Errorf("payload is not valid JSON")}
	}
	return nil
}

// IsValidEventName validates an event name against the naming rule
func IsValidEventName(name string) bool {
	return eventNameRegex.MatchString(name)
}

// IsValidRole validates an actor role
func IsValidRole(role Role) bool {
	return role == RoleClient || role == RoleStaff
}

// IsValidAvailability validates an availability status
func IsValidAvailability(status string) bool {
	switch status {
	case AvailabilityAvailable, AvailabilityBusy, AvailabilityAway, AvailabilityOffline:
		return true
	}
	return false
}
