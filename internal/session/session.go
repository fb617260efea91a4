// Package session manages one authenticated push-channel connection per
// actor, feeding every inbound event through the actor's correlator.
package session

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"callprobe/internal/config"
	"callprobe/internal/correlator"
	"callprobe/internal/recorder"
	"callprobe/internal/socketio"
	"callprobe/internal/websocket"
	"callprobe/pkg/types"
)

// State is the connection lifecycle position
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Options carries everything Open needs. Zero values take the defaults of
// the local development service.
type Options struct {
	BaseURL        string
	Path           string
	Namespace      string
	Label          string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	WaitTimeout    time.Duration
	BufferSize     int
	Header         http.Header
	Sink           recorder.Sink
}

// OptionsFromConfig derives session options from the harness configuration
func OptionsFromConfig(cfg *config.Config, label string) Options {
	return Options{
		BaseURL:        cfg.Service.BaseURL,
		Path:           cfg.Socket.Path,
		Namespace:      cfg.Socket.Namespace,
		Label:          label,
		ConnectTimeout: cfg.Socket.ConnectTimeout,
		WriteTimeout:   cfg.Socket.WriteTimeout,
		WaitTimeout:    cfg.Timeouts.Event,
		BufferSize:     cfg.Socket.BufferSize,
	}
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = config.DefaultBaseURL
	}
	if o.Path == "" {
		o.Path = config.DefaultSocketPath
	}
	if o.Namespace == "" {
		o.Namespace = config.DefaultNamespace
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = correlator.DefaultTimeout
	}
	return o
}

// Session is one actor's connection. It owns exactly one correlator and one
// recorder for its whole life; neither is shared with other sessions.
type Session struct {
	id        string
	label     string
	role      types.Role
	token     string
	namespace string
	endpoint  string

	conn       *websocket.Connection
	correlator *correlator.Correlator
	recorder   *recorder.Recorder

	mu        sync.RWMutex
	state     State
	sid       string
	rooms     map[string]types.RoomMembership
	err       error
	closing   bool
	dropCause error

	joinMu      sync.Mutex
	connectOnce sync.Once
	connected   chan struct{}
	connectErr  chan error
	done        chan struct{}
	closeOnce   sync.Once
}

// Open dials the push channel, authenticates on the namespace and blocks
// until the server confirms the namespace connection or ConnectTimeout
// elapses. Any failure is returned as *ConnectionError.
func Open(ctx context.Context, role types.Role, token string, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	if !types.IsValidRole(role) {
		return nil, &ConnectionError{Namespace: opts.Namespace, Reason: "invalid role " + string(role), Err: ErrInvalidRole}
	}
	if token == "" {
		return nil, &ConnectionError{Namespace: opts.Namespace, Reason: "no token", Err: ErrMissingToken}
	}

	endpoint, err := socketio.BuildURL(opts.BaseURL, opts.Path, nil)
	if err != nil {
		return nil, &ConnectionError{Namespace: opts.Namespace, Reason: "endpoint", Err: err}
	}

	id := uuid.NewString()
	label := opts.Label
	if label == "" {
		label = string(role) + "-" + id[:8]
	}
	rec := recorder.New(id, opts.Sink)
	s := &Session{
		id:         id,
		label:      label,
		role:       role,
		token:      token,
		namespace:  opts.Namespace,
		endpoint:   endpoint,
		recorder:   rec,
		correlator: correlator.New(label, rec, opts.WaitTimeout),
		state:      StateConnecting,
		rooms:      make(map[string]types.RoomMembership),
		connected:  make(chan struct{}),
		connectErr: make(chan error, 1),
		done:       make(chan struct{}),
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	for k, vs := range opts.Header {
		header[k] = append([]string(nil), vs...)
	}
	// FUNCTIONAL DISCOVERY: The service accepts the token either in the
	// namespace auth object or as a bearer header; sending both covers
	// deployments where a proxy strips one of them.
	header.Set("Authorization", "Bearer "+token)

	conn, err := websocket.Dial(dialCtx, endpoint, header, websocket.Options{
		WriteTimeout:     opts.WriteTimeout,
		HandshakeTimeout: opts.ConnectTimeout,
		BufferSize:       opts.BufferSize,
	})
	if err != nil {
		s.correlator.Close()
		s.setState(StateDisconnected)
		return nil, s.connectionError("dial", err)
	}
	s.conn = conn
	conn.Start(s.handleFrame)
	go s.watch()

	select {
	case <-s.connected:
	case err := <-s.connectErr:
		s.abort()
		return nil, s.connectionError("handshake", err)
	case <-s.done:
		// A CONNECT_ERROR is read before the transport closes
		select {
		case err := <-s.connectErr:
			return nil, s.connectionError("handshake", err)
		default:
		}
		return nil, s.connectionError("handshake", s.Err())
	case <-dialCtx.Done():
		s.abort()
		if err := ctx.Err(); err != nil {
			return nil, s.connectionError("canceled", err)
		}
		return nil, s.connectionError("timeout", fmt.Errorf("%w after %v", ErrConnectTimeout, opts.ConnectTimeout))
	}

	s.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateConnected
	}
	s.mu.Unlock()
	log.Printf("[Session] %s connected as %s (sid %s)", s.label, s.role, s.SID())
	return s, nil
}

func (s *Session) connectionError(reason string, err error) *ConnectionError {
	if err == nil {
		err = ErrConnectionDropped
	}
	return &ConnectionError{Endpoint: s.endpoint, Namespace: s.namespace, Reason: reason, Err: err}
}

// abort tears down a session that never reached Connected
func (s *Session) abort() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	_ = s.conn.Close()
	<-s.done
}

// watch converts transport termination into the terminal Disconnected state
func (s *Session) watch() {
	<-s.conn.Done()

	s.mu.Lock()
	if !s.closing {
		cause := s.dropCause
		if cause == nil {
			cause = s.conn.Err()
		}
		if cause == nil {
			cause = websocket.ErrConnectionDropped
		}
		s.err = fmt.Errorf("%w: %w", ErrConnectionDropped, cause)
		if s.state == StateConnected {
			log.Printf("[Session] %s lost connection: %v", s.label, cause)
		}
	}
	s.state = StateDisconnected
	s.mu.Unlock()

	s.correlator.Close()
	close(s.done)
}

// handleFrame runs on the connection's read goroutine, so events reach the
// correlator in exactly the order the server sent them.
func (s *Session) handleFrame(frame []byte) {
	typ, body, err := socketio.ParseEngine(frame)
	if err != nil {
		log.Printf("[Session] %s: dropping frame: %v", s.label, err)
		return
	}

	switch typ {
	case socketio.EngineOpen:
		s.onOpen(body)
	case socketio.EnginePing:
		if err := s.conn.WriteText(socketio.EncodeEngine(socketio.EnginePong, body)); err != nil {
			log.Printf("[Session] %s: pong failed: %v", s.label, err)
		}
	case socketio.EngineClose:
		s.drop(ErrServerDisconnect)
	case socketio.EngineMessage:
		s.onMessage(body)
	}
}

func (s *Session) onOpen(body []byte) {
	hs, err := socketio.ParseHandshake(body)
	if err != nil {
		s.failConnect(err)
		return
	}
	s.mu.Lock()
	s.sid = hs.SID
	s.mu.Unlock()

	// TECHNICAL DISCOVERY: The server pings every pingInterval and waits
	// pingTimeout for the pong; silence beyond their sum means the peer is gone.
	if hs.PingInterval > 0 {
		s.conn.SetReadTimeout(time.Duration(hs.PingInterval+hs.PingTimeout) * time.Millisecond)
	}

	pkt, err := socketio.EncodeConnect(s.namespace, map[string]string{"token": s.token})
	if err != nil {
		s.failConnect(err)
		return
	}
	if err := s.conn.WriteText(pkt); err != nil {
		s.failConnect(err)
	}
}

func (s *Session) onMessage(body []byte) {
	pkt, err := socketio.Decode(body)
	if err != nil {
		log.Printf("[Session] %s: undecodable packet: %v", s.label, err)
		return
	}
	if !socketio.SameNamespace(pkt.Namespace, s.namespace) {
		return
	}

	switch pkt.Type {
	case socketio.PacketConnect:
		s.connectOnce.Do(func() { close(s.connected) })
	case socketio.PacketConnectError:
		s.failConnect(fmt.Errorf("%w: %s", ErrAuthRejected, pkt.ConnectErrorMessage()))
	case socketio.PacketDisconnect:
		s.drop(ErrServerDisconnect)
	case socketio.PacketEvent:
		name, payload, err := pkt.Event()
		if err != nil {
			log.Printf("[Session] %s: malformed event: %v", s.label, err)
			return
		}
		ev := types.Event{Name: name, Payload: payload, ReceivedAt: time.Now()}
		if err := ev.Validate(); err != nil {
			log.Printf("[Session] %s: recording suspicious event %s: %v", s.label, name, err)
		}
		s.correlator.OnEvent(ev)
	}
}

func (s *Session) failConnect(err error) {
	select {
	case s.connectErr <- err:
	default:
	}
}

// drop records why the server ended the session, then closes the transport
func (s *Session) drop(cause error) {
	s.mu.Lock()
	if s.dropCause == nil {
		s.dropCause = cause
	}
	s.mu.Unlock()
	_ = s.conn.Close()
}

// Close sends a best-effort namespace DISCONNECT, closes the transport and
// expires every pending waiter. Safe to call repeatedly.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		wasConnected := s.state == StateConnected
		s.mu.Unlock()

		if wasConnected {
			pkt := socketio.Encode(socketio.Packet{Type: socketio.PacketDisconnect, Namespace: s.namespace})
			_ = s.conn.WriteText(pkt)
		}
		err = s.conn.Close()
		<-s.done
		log.Printf("[Session] %s closed (%d events recorded)", s.label, s.recorder.Len())
	})
	return err
}

// Emit sends a client-to-server event on the session namespace
func (s *Session) Emit(event string, payload any) error {
	if s.State() != StateConnected {
		return fmt.Errorf("%w: emit %s", ErrNotConnected, event)
	}
	frame, err := socketio.EncodeEvent(s.namespace, event, payload)
	if err != nil {
		return err
	}
	return s.conn.WriteText(frame)
}

// Join sends the join request for room unless this session already joined
// it. joined reports whether a request was sent by this call.
func (s *Session) Join(room types.Room) (joined bool, err error) {
	if err := room.Validate(); err != nil {
		return false, err
	}
	event, payload, err := room.JoinEvent()
	if err != nil {
		return false, err
	}

	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	if s.HasJoined(room) {
		return false, nil
	}
	if err := s.Emit(event, payload); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.rooms[room.String()] = types.RoomMembership{Room: room, JoinedAt: time.Now()}
	s.mu.Unlock()
	return true, nil
}

// HasJoined reports whether a join for room was already sent
func (s *Session) HasJoined(room types.Room) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room.String()]
	return ok
}

// Rooms lists memberships in join order
func (s *Session) Rooms() []types.RoomMembership {
	s.mu.RLock()
	out := make([]types.RoomMembership, 0, len(s.rooms))
	for _, m := range s.rooms {
		out = append(out, m)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// Expect registers a waiter on this session's correlator
func (s *Session) Expect(names []string, pred correlator.Predicate, timeout time.Duration) (*correlator.Waiter, error) {
	return s.correlator.Register(names, pred, timeout)
}

func (s *Session) WaitForEvent(ctx context.Context, name string, timeout time.Duration) (types.Event, bool) {
	return s.correlator.WaitForEvent(ctx, name, timeout)
}

func (s *Session) WaitForAnyOf(ctx context.Context, names []string, timeout time.Duration) map[string]*types.Event {
	return s.correlator.WaitForAnyOf(ctx, names, timeout)
}

func (s *Session) ID() string                         { return s.id }
func (s *Session) Label() string                      { return s.label }
func (s *Session) Role() types.Role                   { return s.role }
func (s *Session) Token() string                      { return s.token }
func (s *Session) Namespace() string                  { return s.namespace }
func (s *Session) Correlator() *correlator.Correlator { return s.correlator }
func (s *Session) Recorder() *recorder.Recorder       { return s.recorder }

// Done is closed once the session reached Disconnected
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// SID is the Engine.IO session id assigned by the server
func (s *Session) SID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sid
}

// Err is non-nil when the connection ended without Close being called
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}
