package testserver

import (
	"context"
	"log"
	"sync"
	"time"

	"callprobe/internal/socketio"
)

// delivery is one queued emission
type delivery struct {
	rooms     []string
	broadcast bool
	exceptSID string
	name      string
	frame     []byte
}

// hub serializes every server-to-client emission through one goroutine.
// FUNCTIONAL DISCOVERY: A single delivery loop keeps per-recipient order equal
// to emission order, which is what a single-node Socket.IO server guarantees.
type hub struct {
	registry  *roomRegistry
	namespace string
	delay     time.Duration

	queue    chan delivery
	shutdown chan struct{}
	stopped  chan struct{}

	running bool
	mu      sync.RWMutex
}

func newHub(registry *roomRegistry, namespace string, delay time.Duration) *hub {
	return &hub{
		registry:  registry,
		namespace: namespace,
		delay:     delay,
		queue:     make(chan delivery, 1000),
		shutdown:  make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start begins the delivery loop
func (h *hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true

	log.Println("[FakeCenter] starting event hub")
	go h.run(ctx)
	return nil
}

// Stop ends the delivery loop and waits for it to exit
func (h *hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	h.mu.Unlock()

	<-h.stopped
	return nil
}

// Emit queues event name for every member of rooms
func (h *hub) Emit(rooms []string, name string, payload any) error {
	return h.enqueue(delivery{rooms: rooms, name: name}, payload)
}

// EmitExcept is Emit without the peer identified by sid
func (h *hub) EmitExcept(rooms []string, sid, name string, payload any) error {
	return h.enqueue(delivery{rooms: rooms, exceptSID: sid, name: name}, payload)
}

// Broadcast queues event name for every connected peer
func (h *hub) Broadcast(name string, payload any) error {
	return h.enqueue(delivery{broadcast: true, name: name}, payload)
}

func (h *hub) enqueue(d delivery, payload any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	frame, err := socketio.EncodeEvent(h.namespace, d.name, payload)
	if err != nil {
		return err
	}
	d.frame = frame

	// TECHNICAL DISCOVERY: Non-blocking send so a stalled hub surfaces as an
	// error on the REST handler instead of hanging it
	select {
	case h.queue <- d:
		return nil
	default:
		return ErrHubQueueFull
	}
}

func (h *hub) run(ctx context.Context) {
	defer close(h.stopped)
	defer log.Println("[FakeCenter] event hub stopped")

	for {
		select {
		case d := <-h.queue:
			if h.delay > 0 && !h.sleep(ctx) {
				return
			}
			h.deliver(d)
		case <-h.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *hub) sleep(ctx context.Context) bool {
	t := time.NewTimer(h.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-h.shutdown:
		return false
	case <-ctx.Done():
		return false
	}
}

func (h *hub) deliver(d delivery) {
	var recipients []*peer
	if d.broadcast {
		recipients = h.registry.All()
	} else {
		recipients = h.registry.Members(d.rooms...)
	}

	sent := 0
	for _, p := range recipients {
		if p.sid == d.exceptSID {
			continue
		}
		// Delivery failures mean the peer is going away; its read loop cleans up
		if err := p.conn.WriteText(d.frame); err != nil {
			log.Printf("[FakeCenter] deliver %s to %s failed: %v", d.name, p.sid, err)
			continue
		}
		sent++
	}
	log.Printf("[FakeCenter] emitted %s to %d peer(s)", d.name, sent)
}
