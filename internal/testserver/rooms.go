package testserver

import (
	"log"
	"sort"
	"sync"

	"callprobe/internal/websocket"
)

// peer is one namespace-connected socket on the fake service
type peer struct {
	sid       string
	seq       uint64
	conn      *websocket.Connection
	principal Principal
}

// roomRegistry tracks connected peers and their room memberships.
// ARCHITECTURAL DISCOVERY: Pure membership bookkeeping without delivery
// logic; the hub resolves members here and writes frames itself.
type roomRegistry struct {
	mu      sync.RWMutex
	nextSeq uint64
	peers   map[string]*peer            // sid -> peer
	rooms   map[string]map[string]*peer // room -> sid -> peer
	joined  map[string]map[string]bool  // sid -> rooms, for cleanup
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{
		peers:  make(map[string]*peer),
		rooms:  make(map[string]map[string]*peer),
		joined: make(map[string]map[string]bool),
	}
}

// Register adds a peer. The registration order is the delivery order.
func (r *roomRegistry) Register(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	p.seq = r.nextSeq
	r.peers[p.sid] = p
	r.joined[p.sid] = make(map[string]bool)
}

// Unregister removes a peer from every room. Idempotent.
func (r *roomRegistry) Unregister(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[sid]; !ok {
		return
	}
	delete(r.peers, sid)
	for room := range r.joined[sid] {
		members := r.rooms[room]
		delete(members, sid)
		// TECHNICAL DISCOVERY: Drop empty rooms so RoomSize and Stats stay exact
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	delete(r.joined, sid)
}

// Join adds the peer to room. Unknown peers are ignored.
func (r *roomRegistry) Join(sid, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[sid]
	if !ok {
		log.Printf("[FakeCenter] join %s from unknown peer %s", room, sid)
		return false
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]*peer)
	}
	r.rooms[room][sid] = p
	r.joined[sid][room] = true
	return true
}

// Members returns the union of peers in rooms, each peer once, ordered by
// registration.
func (r *roomRegistry) Members(rooms ...string) []*peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []*peer
	for _, room := range rooms {
		for sid, p := range r.rooms[room] {
			if seen[sid] {
				continue
			}
			seen[sid] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// All returns every connected peer in registration order
func (r *roomRegistry) All() []*peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *roomRegistry) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

func (r *roomRegistry) InRoom(sid, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][sid]
	return ok
}

// Stats returns registry statistics for debugging
func (r *roomRegistry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"total_connections": len(r.peers),
		"active_rooms":      len(r.rooms),
	}
}
