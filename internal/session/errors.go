package session

import (
	"errors"
	"fmt"
)

var (
	ErrConnectTimeout    = errors.New("namespace connect not confirmed in time")
	ErrAuthRejected      = errors.New("server rejected namespace authentication")
	ErrConnectionDropped = errors.New("connection dropped")
	ErrServerDisconnect  = errors.New("server closed the session")
	ErrNotConnected      = errors.New("session is not connected")
	ErrMissingToken      = errors.New("auth token is required")
	ErrInvalidRole       = errors.New("invalid role: must be 'client' or 'staff'")
	ErrNilSession        = errors.New("session cannot be nil")
	ErrDuplicateSession  = errors.New("session already registered")
)

// ConnectionError reports why Open could not produce a connected session
type ConnectionError struct {
	Endpoint  string
	Namespace string
	Reason    string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s (namespace %s): %s: %v", e.Endpoint, e.Namespace, e.Reason, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
