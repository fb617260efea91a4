package socketio

import "errors"

var (
	ErrEmptyFrame        = errors.New("empty frame")
	ErrUnknownPacket     = errors.New("unknown packet type")
	ErrMalformedPacket   = errors.New("malformed packet")
	ErrBinaryUnsupported = errors.New("binary packets are not supported")
	ErrBadHandshake      = errors.New("invalid engine.io handshake")
	ErrInvalidURL        = errors.New("invalid socket URL")
)
