package testserver

import "errors"

// Auth errors
var (
	ErrUnknownToken        = errors.New("unknown or expired token")
	ErrUnknownRefreshToken = errors.New("unknown refresh token")
	ErrBadCredentials      = errors.New("invalid email or password")
	ErrForbiddenRole       = errors.New("role not permitted for this operation")
)

// Call store errors
var (
	ErrCallNotFound        = errors.New("call not found")
	ErrInvalidTransition   = errors.New("call state does not allow this transition")
	ErrNoAvailableStaff    = errors.New("No available staff")
	ErrMissingClientID     = errors.New("clientId is required")
	ErrInvalidAvailability = errors.New("status must be available, busy, away or offline")
)

// Notification errors
var (
	ErrNotificationNotFound = errors.New("notification not found")
)

// Hub errors
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrHubQueueFull      = errors.New("hub delivery queue is full")
)
