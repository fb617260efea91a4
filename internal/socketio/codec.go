// Package socketio implements the Engine.IO v4 / Socket.IO v5 text framing
// used by the push channel. Only the websocket transport is supported, so
// there is no long-polling payload concatenation and no binary attachments.
package socketio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EngineType is the single-digit Engine.IO packet prefix
type EngineType byte

const (
	EngineOpen    EngineType = '0'
	EngineClose   EngineType = '1'
	EnginePing    EngineType = '2'
	EnginePong    EngineType = '3'
	EngineMessage EngineType = '4'
	EngineUpgrade EngineType = '5'
	EngineNoop    EngineType = '6'
)

// PacketType is the Socket.IO packet type carried inside an Engine.IO message
type PacketType int

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
	PacketBinaryEvent
	PacketBinaryAck
)

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketEvent:
		return "EVENT"
	case PacketAck:
		return "ACK"
	case PacketConnectError:
		return "CONNECT_ERROR"
	case PacketBinaryEvent:
		return "BINARY_EVENT"
	case PacketBinaryAck:
		return "BINARY_ACK"
	}
	return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
}

// Handshake is the JSON body of the Engine.IO open packet
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload,omitempty"`
}

// Packet is a decoded Socket.IO packet
type Packet struct {
	Type      PacketType
	Namespace string
	AckID     *int
	Data      json.RawMessage
}

// ParseEngine splits a websocket text frame into its Engine.IO type and body
func ParseEngine(frame []byte) (EngineType, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, ErrEmptyFrame
	}
	t := EngineType(frame[0])
	if t < EngineOpen || t > EngineNoop {
		return 0, nil, fmt.Errorf("%w: engine type %q", ErrUnknownPacket, frame[0])
	}
	return t, frame[1:], nil
}

// EncodeEngine prefixes body with an Engine.IO type
func EncodeEngine(t EngineType, body []byte) []byte {
	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(t))
	return append(out, body...)
}

// ParseHandshake decodes the open packet body
func ParseHandshake(body []byte) (*Handshake, error) {
	var hs Handshake
	if err := json.Unmarshal(body, &hs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	if hs.SID == "" {
		return nil, fmt.Errorf("%w: missing sid", ErrBadHandshake)
	}
	return &hs, nil
}

// Encode renders a Socket.IO packet, including the Engine.IO message prefix,
// as a single websocket text frame.
// Format: 4<type>[<ns>,][<ackId>][<json>]
func Encode(p Packet) []byte {
	var b bytes.Buffer
	b.WriteByte(byte(EngineMessage))
	b.WriteString(strconv.Itoa(int(p.Type)))
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.AckID != nil {
		b.WriteString(strconv.Itoa(*p.AckID))
	}
	b.Write(p.Data)
	return b.Bytes()
}

// Decode parses the body of an Engine.IO message packet (prefix already
// stripped by ParseEngine).
func Decode(body []byte) (Packet, error) {
	s := string(body)
	if s == "" {
		return Packet{}, ErrEmptyFrame
	}

	typ, err := strconv.Atoi(s[:1])
	if err != nil || typ < int(PacketConnect) || typ > int(PacketBinaryAck) {
		return Packet{}, fmt.Errorf("%w: socket type %q", ErrUnknownPacket, s[:1])
	}
	p := Packet{Type: PacketType(typ), Namespace: "/"}
	s = s[1:]

	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		return Packet{}, ErrBinaryUnsupported
	}

	if strings.HasPrefix(s, "/") {
		end := strings.IndexByte(s, ',')
		if end < 0 {
			p.Namespace = s
			return p, nil
		}
		p.Namespace = s[:end]
		s = s[end+1:]
	}

	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(s[:digits])
		if err != nil {
			return Packet{}, fmt.Errorf("%w: ack id %q", ErrMalformedPacket, s[:digits])
		}
		p.AckID = &id
		s = s[digits:]
	}

	if s != "" {
		if !json.Valid([]byte(s)) {
			return Packet{}, fmt.Errorf("%w: invalid JSON data", ErrMalformedPacket)
		}
		p.Data = json.RawMessage(s)
	}
	return p, nil
}

// EncodeEvent builds an EVENT packet for name with a single argument
func EncodeEvent(namespace, name string, payload any) ([]byte, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", name, err)
	}
	return Encode(Packet{Type: PacketEvent, Namespace: namespace, Data: data}), nil
}

// EncodeConnect builds the namespace CONNECT packet with an auth object
func EncodeConnect(namespace string, auth any) ([]byte, error) {
	var data []byte
	if auth != nil {
		var err error
		if data, err = json.Marshal(auth); err != nil {
			return nil, fmt.Errorf("marshal auth: %w", err)
		}
	}
	return Encode(Packet{Type: PacketConnect, Namespace: namespace, Data: data}), nil
}

// Event extracts the event name and first argument from an EVENT packet.
// A missing argument yields a nil payload.
func (p Packet) Event() (string, json.RawMessage, error) {
	if p.Type != PacketEvent {
		return "", nil, fmt.Errorf("%w: %s is not an event", ErrMalformedPacket, p.Type)
	}
	var args []json.RawMessage
	if err := json.Unmarshal(p.Data, &args); err != nil || len(args) == 0 {
		return "", nil, fmt.Errorf("%w: event data must be a non-empty array", ErrMalformedPacket)
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil || name == "" {
		return "", nil, fmt.Errorf("%w: event name must be a string", ErrMalformedPacket)
	}
	if len(args) < 2 {
		return name, nil, nil
	}
	return name, args[1], nil
}

// ConnectErrorMessage extracts the reason from a CONNECT_ERROR packet
func (p Packet) ConnectErrorMessage() string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(p.Data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return string(p.Data)
}

// SameNamespace compares namespaces treating "" and "/" as equal
func SameNamespace(a, b string) bool {
	if a == "" {
		a = "/"
	}
	if b == "" {
		b = "/"
	}
	return a == b
}
