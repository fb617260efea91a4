// Package recorder keeps the append-only log of every event a session
// observed, matched or not, for post-hoc assertions.
package recorder

import (
	"log"
	"sync"

	"callprobe/pkg/types"
)

// Sink receives a copy of every appended record. Implementations must not
// block: Append is called inside the correlator's critical section.
type Sink interface {
	EnqueueEvent(sessionID string, ev types.EventRecord) error
}

// Recorder is the per-session result log. Entries are never removed or
// rewritten.
type Recorder struct {
	sessionID string
	sink      Sink

	mu     sync.RWMutex
	events []types.EventRecord
	counts map[string]int
	seq    uint64
}

// New creates an empty recorder. sink may be nil.
func New(sessionID string, sink Sink) *Recorder {
	return &Recorder{
		sessionID: sessionID,
		sink:      sink,
		counts:    make(map[string]int),
	}
}

// Append stores ev, assigning it the next sequence number, and returns the
// stored record.
func (r *Recorder) Append(ev types.EventRecord) types.EventRecord {
	r.mu.Lock()
	r.seq++
	ev.Seq = r.seq
	r.events = append(r.events, ev)
	r.counts[ev.Name]++
	r.mu.Unlock()

	if r.sink != nil {
		if err := r.sink.EnqueueEvent(r.sessionID, ev); err != nil {
			log.Printf("[Recorder] session %s: archive dropped %s #%d: %v", r.sessionID, ev.Name, ev.Seq, err)
		}
	}
	return ev
}

// SessionID returns the owning session's id
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// Events returns a snapshot copy in arrival order
func (r *Recorder) Events() []types.EventRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.EventRecord, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Count returns how many events with the given name were recorded
func (r *Recorder) Count(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[name]
}

// DistinctNames returns the number of different event names seen
func (r *Recorder) DistinctNames() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.counts)
}

// Names returns event names in arrival order
func (r *Recorder) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

// First returns the earliest record with the given name
func (r *Recorder) First(name string) (types.EventRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ev := range r.events {
		if ev.Name == name {
			return ev, true
		}
	}
	return types.EventRecord{}, false
}

// Filter returns every record whose name is in names, in arrival order
func (r *Recorder) Filter(names ...string) []types.EventRecord {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.EventRecord
	for _, ev := range r.events {
		if _, ok := want[ev.Name]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// InOrder reports whether names appear as a subsequence of the log.
// Unrelated events in between are tolerated.
func (r *Recorder) InOrder(names ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := 0
	for _, ev := range r.events {
		if i == len(names) {
			break
		}
		if ev.Name == names[i] {
			i++
		}
	}
	return i == len(names)
}
