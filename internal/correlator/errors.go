package correlator

import "errors"

var (
	ErrCorrelatorClosed = errors.New("correlator closed: session is no longer usable")
	ErrNoEventNames     = errors.New("waiter needs at least one event name")
	ErrEmptyEventName   = errors.New("event name cannot be empty")
)
