package recorder

import (
	"errors"
	"sync"
	"testing"
	"time"

	"callprobe/pkg/types"
)

type captureSink struct {
	mu     sync.Mutex
	got    []types.EventRecord
	failOn string
}

func (s *captureSink) EnqueueEvent(sessionID string, ev types.EventRecord) error {
	if ev.Name == s.failOn {
		return errors.New("queue full")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return nil
}

func record(r *Recorder, names ...string) {
	for _, n := range names {
		r.Append(types.EventRecord{Name: n, ReceivedAt: time.Now()})
	}
}

func TestRecorder_AppendAssignsSequence(t *testing.T) {
	r := New("s1", nil)
	record(r, "a", "b", "a")

	events := r.Events()
	if len(events) != 3 {
		t.Fatalf("Len = %d, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d seq = %d", i, ev.Seq)
		}
	}
	if r.Count("a") != 2 || r.Count("b") != 1 || r.Count("zzz") != 0 {
		t.Errorf("counts a=%d b=%d", r.Count("a"), r.Count("b"))
	}
	if r.DistinctNames() != 2 {
		t.Errorf("DistinctNames = %d, want 2", r.DistinctNames())
	}
}

func TestRecorder_EventsIsSnapshot(t *testing.T) {
	r := New("s1", nil)
	record(r, "a")
	snap := r.Events()
	snap[0].Name = "mutated"
	record(r, "b")

	if got := r.Names(); got[0] != "a" || len(got) != 2 {
		t.Errorf("Names = %v; snapshot mutation leaked or append lost", got)
	}
}

func TestRecorder_InOrder(t *testing.T) {
	r := New("s1", nil)
	record(r, "call.initiated", "noise", "call:sdp", "call:ice", "call:ice", "call.ended")

	tests := []struct {
		names []string
		want  bool
	}{
		{[]string{"call.initiated", "call:sdp", "call.ended"}, true},
		{[]string{"call:sdp", "call:ice", "call:ice"}, true},
		{[]string{"call.ended", "call.initiated"}, false},
		{[]string{"call:ice", "call:ice", "call:ice"}, false},
		{nil, true},
	}
	for _, tt := range tests {
		if got := r.InOrder(tt.names...); got != tt.want {
			t.Errorf("InOrder(%v) = %v, want %v", tt.names, got, tt.want)
		}
	}
}

func TestRecorder_FirstAndFilter(t *testing.T) {
	r := New("s1", nil)
	record(r, "x", "y", "x")

	first, ok := r.First("x")
	if !ok || first.Seq != 1 {
		t.Errorf("First(x) = %+v, %v", first, ok)
	}
	if _, ok := r.First("missing"); ok {
		t.Error("First(missing) should be false")
	}
	if got := r.Filter("x"); len(got) != 2 || got[1].Seq != 3 {
		t.Errorf("Filter(x) = %+v", got)
	}
}

func TestRecorder_SinkReceivesRecords(t *testing.T) {
	sink := &captureSink{failOn: "dropped"}
	r := New("s1", sink)
	record(r, "kept", "dropped", "kept")

	// A sink failure must not affect the in-memory log
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 2 || sink.got[1].Seq != 3 {
		t.Errorf("sink got %+v", sink.got)
	}
}

func TestRecorder_ConcurrentAppend(t *testing.T) {
	r := New("s1", nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				record(r, "burst")
			}
		}()
	}
	wg.Wait()
	if r.Count("burst") != 1000 || r.Len() != 1000 {
		t.Errorf("count = %d len = %d", r.Count("burst"), r.Len())
	}
}
