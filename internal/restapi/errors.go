package restapi

import (
	"errors"
	"fmt"
)

var (
	ErrNoStaffAvailable = errors.New("no available staff")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("state conflict")
	ErrRateLimited      = errors.New("rate limited")
	ErrInvalidResponse  = errors.New("invalid response body")
	ErrMissingToken     = errors.New("bearer token is required")
)

// StatusError is a non-2xx response. It unwraps to the sentinel matching
// its status, so callers can use errors.Is without inspecting codes.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.Status, truncate(e.Body, 256))
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case 401, 403:
		return ErrUnauthorized
	case 404:
		return ErrNotFound
	case 409:
		return ErrConflict
	case 429:
		return ErrRateLimited
	case 503:
		return ErrNoStaffAvailable
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
