// Package correlator matches inbound push events to the waiters that
// scenarios registered before triggering the action that causes them.
package correlator

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"callprobe/internal/recorder"
	"callprobe/pkg/types"
)

// DefaultTimeout bounds a waiter registered without an explicit timeout
const DefaultTimeout = 10 * time.Second

// Correlator owns the waiter registry of one session.
// ARCHITECTURAL DISCOVERY: One mutex guards both the waiter list and the
// recorder append, so the recorded order is exactly the dispatch order and a
// waiter can never observe an event that was recorded before it registered.
type Correlator struct {
	label          string
	recorder       *recorder.Recorder
	defaultTimeout time.Duration

	mu      sync.Mutex
	waiters []*Waiter // registration order
	closed  bool
}

// New creates a correlator that appends every event to rec
func New(label string, rec *recorder.Recorder, defaultTimeout time.Duration) *Correlator {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Correlator{
		label:          label,
		recorder:       rec,
		defaultTimeout: defaultTimeout,
	}
}

// Recorder returns the log this correlator appends to
func (c *Correlator) Recorder() *recorder.Recorder {
	return c.recorder
}

// Register adds a pending waiter for any of names. A nil predicate accepts
// every payload. Timeouts <= 0 use the correlator default.
// Predicates run under the correlator lock and must not call back into it.
func (c *Correlator) Register(names []string, pred Predicate, timeout time.Duration) (*Waiter, error) {
	if len(names) == 0 {
		return nil, ErrNoEventNames
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			return nil, ErrEmptyEventName
		}
		set[n] = struct{}{}
	}
	if pred == nil {
		pred = Any()
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	w := &Waiter{
		id:           uuid.NewString(),
		names:        set,
		nameList:     append([]string(nil), names...),
		predicate:    pred,
		timeout:      timeout,
		registeredAt: time.Now(),
		done:         make(chan struct{}),
		owner:        c,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCorrelatorClosed
	}
	c.waiters = append(c.waiters, w)
	// TECHNICAL DISCOVERY: The timer callback takes c.mu, so it cannot run
	// before w.timer is assigned below.
	w.timer = time.AfterFunc(timeout, func() { c.expire(w, false) })
	return w, nil
}

// OnEvent records ev and hands it to the first pending waiter, in
// registration order, whose names and predicate accept it. At most one
// waiter consumes any event. The stored record is returned.
func (c *Correlator) OnEvent(ev types.Event) types.Event {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.recorder.Append(ev)
	if c.closed {
		return rec
	}
	for i, w := range c.waiters {
		if _, ok := w.names[rec.Name]; !ok {
			continue
		}
		if !c.matches(w, rec) {
			continue
		}
		c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
		w.resolveLocked(rec)
		break
	}
	return rec
}

// matches evaluates a predicate; a panicking predicate counts as no match
func (c *Correlator) matches(w *Waiter, ev types.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Correlator] %s: predicate for waiter %s panicked on %s: %v", c.label, w.id, ev.Name, r)
			ok = false
		}
	}()
	return w.predicate(ev)
}

// expire removes w and marks it Expired if still pending
func (c *Correlator) expire(w *Waiter, canceled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.state != StatePending {
		return
	}
	c.removeLocked(w)
	w.expireLocked()
	if !canceled {
		log.Printf("[Correlator] %s: waiter for [%s] timed out after %v", c.label, strings.Join(w.nameList, ","), w.timeout)
	}
}

func (c *Correlator) removeLocked(w *Waiter) {
	for i, candidate := range c.waiters {
		if candidate == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// Close force-expires every pending waiter and rejects new registrations.
// Events arriving afterwards are still recorded.
func (c *Correlator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if n := len(c.waiters); n > 0 {
		log.Printf("[Correlator] %s: expiring %d pending waiters on close", c.label, n)
	}
	for _, w := range c.waiters {
		w.expireLocked()
	}
	c.waiters = nil
}

// Pending returns the number of unresolved waiters
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Closed reports whether Close has been called
func (c *Correlator) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WaitForEvent blocks until an event named name arrives, the timeout
// elapses, or ctx ends. The boolean is false when nothing arrived.
func (c *Correlator) WaitForEvent(ctx context.Context, name string, timeout time.Duration) (types.Event, bool) {
	return c.WaitFor(ctx, name, nil, timeout)
}

// WaitFor is WaitForEvent with a payload predicate
func (c *Correlator) WaitFor(ctx context.Context, name string, pred Predicate, timeout time.Duration) (types.Event, bool) {
	w, err := c.Register([]string{name}, pred, timeout)
	if err != nil {
		log.Printf("[Correlator] %s: cannot wait for %s: %v", c.label, name, err)
		return types.Event{}, false
	}
	return w.Wait(ctx)
}

// WaitForAnyOf waits for the first of several event names. The returned map
// has an entry for every name; only the first arrival is non-nil, and all
// entries are nil on timeout.
func (c *Correlator) WaitForAnyOf(ctx context.Context, names []string, timeout time.Duration) map[string]*types.Event {
	result := make(map[string]*types.Event, len(names))
	for _, n := range names {
		result[n] = nil
	}

	w, err := c.Register(names, nil, timeout)
	if err != nil {
		log.Printf("[Correlator] %s: cannot wait for any of %v: %v", c.label, names, err)
		return result
	}
	if ev, ok := w.Wait(ctx); ok {
		result[ev.Name] = &ev
	}
	return result
}
