package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrConnectionDropped = errors.New("connection dropped by peer")
	ErrWriteTimeout      = errors.New("write queue timeout")
	ErrWriteFailed       = errors.New("websocket write failed")
	ErrDialFailed        = errors.New("websocket dial failed")
)
