package correlator

import (
	"context"
	"time"

	"callprobe/pkg/types"
)

// State is a waiter's position in its one-shot lifecycle
type State int

const (
	StatePending State = iota
	StateResolved
	StateExpired
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Waiter is a one-shot handle that resolves with the first matching event
// or expires. Both transitions happen exactly once under the owner's lock.
type Waiter struct {
	id           string
	names        map[string]struct{}
	nameList     []string
	predicate    Predicate
	timeout      time.Duration
	registeredAt time.Time
	timer        *time.Timer
	done         chan struct{}
	owner        *Correlator

	// guarded by owner.mu
	state State
	event types.Event
}

func (w *Waiter) ID() string              { return w.id }
func (w *Waiter) Names() []string         { return append([]string(nil), w.nameList...) }
func (w *Waiter) Timeout() time.Duration  { return w.timeout }
func (w *Waiter) RegisteredAt() time.Time { return w.registeredAt }

// Done is closed when the waiter resolves or expires
func (w *Waiter) Done() <-chan struct{} {
	return w.done
}

func (w *Waiter) State() State {
	w.owner.mu.Lock()
	defer w.owner.mu.Unlock()
	return w.state
}

// Result returns the matched event once resolved
func (w *Waiter) Result() (types.Event, bool) {
	w.owner.mu.Lock()
	defer w.owner.mu.Unlock()
	if w.state != StateResolved {
		return types.Event{}, false
	}
	return w.event, true
}

// Wait blocks until the waiter settles. Cancelling ctx expires the waiter
// early; an event that won the race is still returned.
func (w *Waiter) Wait(ctx context.Context) (types.Event, bool) {
	select {
	case <-w.done:
	case <-ctx.Done():
		w.Cancel()
	}
	return w.Result()
}

// Cancel expires a pending waiter without waiting for its timeout
func (w *Waiter) Cancel() {
	w.owner.expire(w, true)
}

func (w *Waiter) resolveLocked(ev types.Event) {
	if w.state != StatePending {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.state = StateResolved
	w.event = ev
	close(w.done)
}

func (w *Waiter) expireLocked() {
	if w.state != StatePending {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.state = StateExpired
	close(w.done)
}
