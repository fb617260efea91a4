package testserver

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"

	"callprobe/internal/socketio"
	"callprobe/internal/websocket"
	"callprobe/pkg/types"
)

var upgrader = gorilla.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// socketHandler terminates the Engine.IO websocket transport and the one
// Socket.IO namespace the service exposes.
type socketHandler struct {
	namespace    string
	pingInterval time.Duration
	pingTimeout  time.Duration
	tokens       *tokenStore
	registry     *roomRegistry
	hub          *hub

	mu    sync.Mutex
	conns map[*websocket.Connection]struct{}
}

func newSocketHandler(namespace string, pingInterval, pingTimeout time.Duration, tokens *tokenStore, registry *roomRegistry, h *hub) *socketHandler {
	return &socketHandler{
		namespace:    namespace,
		pingInterval: pingInterval,
		pingTimeout:  pingTimeout,
		tokens:       tokens,
		registry:     registry,
		hub:          h,
		conns:        make(map[*websocket.Connection]struct{}),
	}
}

// socketConn is the per-websocket state. peer is written by the read
// goroutine and read by cleanup.
type socketConn struct {
	h         *socketHandler
	conn      *websocket.Connection
	engineSID string
	header    string

	mu   sync.Mutex
	peer *peer
}

func (sc *socketConn) currentPeer() *peer {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.peer
}

func (sc *socketConn) setPeer(p *peer) {
	sc.mu.Lock()
	sc.peer = p
	sc.mu.Unlock()
}

// ServeHTTP upgrades the request and opens the Engine.IO session
func (h *socketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("EIO") != "4" || q.Get("transport") != "websocket" {
		http.Error(w, `{"code":0,"message":"Transport unknown"}`, http.StatusBadRequest)
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[FakeCenter] websocket upgrade failed: %v", err)
		return
	}

	conn := websocket.NewConnection(raw, websocket.Options{
		ReadTimeout: h.pingInterval + h.pingTimeout,
	})
	sc := &socketConn{
		h:         h,
		conn:      conn,
		engineSID: uuid.NewString(),
		header:    bearerToken(r),
	}
	h.track(conn)

	open, err := json.Marshal(socketio.Handshake{
		SID:          sc.engineSID,
		Upgrades:     []string{},
		PingInterval: int(h.pingInterval / time.Millisecond),
		PingTimeout:  int(h.pingTimeout / time.Millisecond),
		MaxPayload:   1000000,
	})
	if err != nil {
		_ = conn.Close()
		return
	}
	if err := conn.WriteText(socketio.EncodeEngine(socketio.EngineOpen, open)); err != nil {
		_ = conn.Close()
		return
	}

	conn.Start(sc.handleFrame)
	go sc.heartbeat()
	go sc.cleanup()
}

// TECHNICAL DISCOVERY: In Engine.IO v4 the server sends pings and the client
// answers; a client that stops answering trips the read deadline.
func (sc *socketConn) heartbeat() {
	ticker := time.NewTicker(sc.h.pingInterval)
	defer ticker.Stop()
	ping := socketio.EncodeEngine(socketio.EnginePing, nil)
	for {
		select {
		case <-ticker.C:
			if err := sc.conn.WriteText(ping); err != nil {
				return
			}
		case <-sc.conn.Done():
			return
		}
	}
}

func (sc *socketConn) cleanup() {
	<-sc.conn.Done()
	if p := sc.currentPeer(); p != nil {
		sc.h.registry.Unregister(p.sid)
	}
	sc.h.untrack(sc.conn)
	if err := sc.conn.Err(); err != nil {
		log.Printf("[FakeCenter] socket %s closed: %v", sc.engineSID, err)
	}
}

func (sc *socketConn) handleFrame(frame []byte) {
	typ, body, err := socketio.ParseEngine(frame)
	if err != nil {
		log.Printf("[FakeCenter] bad engine frame from %s: %v", sc.engineSID, err)
		return
	}

	switch typ {
	case socketio.EnginePing:
		_ = sc.conn.WriteText(socketio.EncodeEngine(socketio.EnginePong, body))
	case socketio.EnginePong, socketio.EngineNoop:
	case socketio.EngineClose:
		go sc.conn.Close()
	case socketio.EngineMessage:
		pkt, err := socketio.Decode(body)
		if err != nil {
			log.Printf("[FakeCenter] bad packet from %s: %v", sc.engineSID, err)
			return
		}
		sc.handlePacket(pkt)
	}
}

func (sc *socketConn) handlePacket(pkt socketio.Packet) {
	if !socketio.SameNamespace(pkt.Namespace, sc.h.namespace) {
		if pkt.Type == socketio.PacketConnect {
			sc.sendConnectError(pkt.Namespace, "Invalid namespace")
		}
		return
	}

	switch pkt.Type {
	case socketio.PacketConnect:
		sc.connect(pkt)
	case socketio.PacketDisconnect:
		if p := sc.currentPeer(); p != nil {
			sc.h.registry.Unregister(p.sid)
			log.Printf("[FakeCenter] %s left %s", p.principal.UserID, sc.h.namespace)
			sc.setPeer(nil)
		}
	case socketio.PacketEvent:
		p := sc.currentPeer()
		if p == nil {
			log.Printf("[FakeCenter] event before CONNECT from %s dropped", sc.engineSID)
			return
		}
		name, payload, err := pkt.Event()
		if err != nil {
			log.Printf("[FakeCenter] bad event from %s: %v", p.sid, err)
			return
		}
		sc.handleEvent(p, name, payload)
	}
}

// connect authenticates the namespace CONNECT and joins the rooms the
// principal is entitled to.
// FUNCTIONAL DISCOVERY: The token may arrive in the CONNECT auth object or the
// upgrade request's Authorization header; either is accepted.
func (sc *socketConn) connect(pkt socketio.Packet) {
	if sc.currentPeer() != nil {
		return
	}
	token := sc.header
	if len(pkt.Data) > 0 {
		var auth struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(pkt.Data, &auth); err == nil && auth.Token != "" {
			token = auth.Token
		}
	}

	p, err := sc.h.tokens.Resolve(token)
	if err != nil {
		sc.sendConnectError(sc.h.namespace, "unauthorized")
		return
	}

	np := &peer{sid: uuid.NewString(), conn: sc.conn, principal: p}
	sc.h.registry.Register(np)
	switch p.Role {
	case types.RoleClient:
		sc.h.registry.Join(np.sid, types.ClientRoom(p.UserID).String())
	case types.RoleStaff:
		sc.h.registry.Join(np.sid, types.StaffRoom(p.StaffID).String())
		sc.h.registry.Join(np.sid, types.OrgRoom(p.OrgID).String())
	}
	sc.setPeer(np)
	select {
	case <-sc.conn.Done():
		// cleanup may already have run
		sc.h.registry.Unregister(np.sid)
		return
	default:
	}

	data, _ := json.Marshal(map[string]string{"sid": np.sid})
	_ = sc.conn.WriteText(socketio.Encode(socketio.Packet{
		Type:      socketio.PacketConnect,
		Namespace: sc.h.namespace,
		Data:      data,
	}))
	log.Printf("[FakeCenter] %s %s connected to %s", p.Role, p.UserID, sc.h.namespace)
}

func (sc *socketConn) sendConnectError(namespace, message string) {
	data, _ := json.Marshal(map[string]string{"message": message})
	_ = sc.conn.WriteText(socketio.Encode(socketio.Packet{
		Type:      socketio.PacketConnectError,
		Namespace: namespace,
		Data:      data,
	}))
}

func (sc *socketConn) handleEvent(p *peer, name string, payload json.RawMessage) {
	switch name {
	case types.EventJoinStaff:
		if p.principal.Role != types.RoleStaff {
			log.Printf("[FakeCenter] %s may not join staff rooms", p.principal.UserID)
			return
		}
		var body struct {
			StaffID string `json:"staffId"`
		}
		if json.Unmarshal(payload, &body) != nil || body.StaffID == "" {
			log.Printf("[FakeCenter] %s without staffId dropped", name)
			return
		}
		sc.h.registry.Join(p.sid, types.StaffRoom(body.StaffID).String())

	case types.EventJoinCall:
		var body struct {
			CallID string `json:"callId"`
		}
		if json.Unmarshal(payload, &body) != nil || body.CallID == "" {
			log.Printf("[FakeCenter] %s without callId dropped", name)
			return
		}
		sc.h.registry.Join(p.sid, types.CallRoom(body.CallID).String())

	case types.EventCallSDP, types.EventCallICE,
		types.EventWebRTCOffer, types.EventWebRTCAnswer, types.EventWebRTCICE:
		sc.relay(p, name, payload)

	default:
		log.Printf("[FakeCenter] unhandled event %s from %s", name, p.sid)
	}
}

// relay forwards signaling to everyone else in the call room
func (sc *socketConn) relay(p *peer, name string, payload json.RawMessage) {
	var body struct {
		CallID string `json:"callId"`
	}
	if json.Unmarshal(payload, &body) != nil || body.CallID == "" {
		log.Printf("[FakeCenter] %s without callId dropped", name)
		return
	}
	room := types.CallRoom(body.CallID).String()
	if err := sc.h.hub.EmitExcept([]string{room}, p.sid, name, payload); err != nil {
		log.Printf("[FakeCenter] relay %s failed: %v", name, err)
	}
}

func (h *socketHandler) track(c *websocket.Connection) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *socketHandler) untrack(c *websocket.Connection) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *socketHandler) snapshot() []*websocket.Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*websocket.Connection, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

// DropAll closes every websocket without a Socket.IO goodbye
func (h *socketHandler) DropAll() int {
	conns := h.snapshot()
	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}

// DisconnectAll sends a namespace DISCONNECT to every socket, then closes it
func (h *socketHandler) DisconnectAll() int {
	conns := h.snapshot()
	frame := socketio.Encode(socketio.Packet{Type: socketio.PacketDisconnect, Namespace: h.namespace})
	for _, c := range conns {
		_ = c.WriteText(frame)
		_ = c.Close()
	}
	return len(conns)
}
