package correlator

import (
	"github.com/tidwall/gjson"

	"callprobe/pkg/types"
)

// Predicate decides whether a waiter accepts an event
type Predicate func(ev types.Event) bool

// Any accepts every event
func Any() Predicate {
	return func(types.Event) bool { return true }
}

// FieldEquals matches when the gjson path in the payload renders as value.
// Nested paths use dots, e.g. "client.id".
func FieldEquals(path, value string) Predicate {
	return func(ev types.Event) bool {
		r := gjson.GetBytes(ev.Payload, path)
		return r.Exists() && r.String() == value
	}
}

// FieldPresent matches when the gjson path exists in the payload
func FieldPresent(path string) Predicate {
	return func(ev types.Event) bool {
		return gjson.GetBytes(ev.Payload, path).Exists()
	}
}

// All matches when every predicate matches
func All(preds ...Predicate) Predicate {
	return func(ev types.Event) bool {
		for _, p := range preds {
			if p != nil && !p(ev) {
				return false
			}
		}
		return true
	}
}

// ForCall matches payloads carrying the given callId
func ForCall(callID string) Predicate {
	return FieldEquals("callId", callID)
}
