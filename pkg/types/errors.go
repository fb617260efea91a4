package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRoom      = errors.New("room name must be <kind>:<id> with a known kind")
	ErrRoomNotJoinable  = errors.New("room cannot be joined by the client")
	ErrInvalidEventName = errors.New("event name must be 1-100 printable characters")
	ErrEmptyPayload     = errors.New("event payload is empty")
	ErrPayloadTooLarge  = errors.New("event payload exceeds 1MB limit")
)

// ProtocolMismatchError reports a payload that did not carry the fields the
// scenario relies on, or could not be decoded at all.
type ProtocolMismatchError struct {
	Event   string
	Missing []string
	Err     error
}

func (e *ProtocolMismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol mismatch on %s: %v", e.Event, e.Err)
	}
	return fmt.Sprintf("protocol mismatch on %s: missing %s", e.Event, strings.Join(e.Missing, ", "))
}

func (e *ProtocolMismatchError) Unwrap() error {
	return e.Err
}

// IsProtocolMismatch reports whether err came from payload decoding
func IsProtocolMismatch(err error) bool {
	var pm *ProtocolMismatchError
	return errors.As(err, &pm)
}
