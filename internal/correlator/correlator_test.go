package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"callprobe/internal/recorder"
	"callprobe/pkg/types"
)

func newTestCorrelator(t *testing.T) *Correlator {
	t.Helper()
	c := New("test", recorder.New("test-session", nil), time.Second)
	t.Cleanup(c.Close)
	return c
}

func event(name, payload string) types.Event {
	return types.Event{Name: name, Payload: json.RawMessage(payload)}
}

func TestCorrelator_ResolvesRegisteredWaiter(t *testing.T) {
	c := newTestCorrelator(t)

	w, err := c.Register([]string{"call.initiated"}, nil, time.Second)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	c.OnEvent(event("call.initiated", `{"callId":"c1"}`))

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("waiter did not resolve")
	}
	ev, ok := w.Result()
	if !ok || string(ev.Payload) != `{"callId":"c1"}` {
		t.Errorf("Result = (%+v, %v)", ev, ok)
	}
	if w.State() != StateResolved {
		t.Errorf("State = %s, want resolved", w.State())
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", c.Pending())
	}
}

// FUNCTIONAL DISCOVERY: Unmatched events are recorded but never buffered for
// later waiters. A waiter registered after the event must time out.
func TestCorrelator_LateWaiterDoesNotObserveEarlierEvent(t *testing.T) {
	c := newTestCorrelator(t)

	c.OnEvent(event("call.accepted", `{"callId":"c1"}`))

	ev, ok := c.WaitForEvent(context.Background(), "call.accepted", 100*time.Millisecond)
	if ok {
		t.Fatalf("late waiter observed %+v", ev)
	}
	if c.Recorder().Count("call.accepted") != 1 {
		t.Errorf("recorder count = %d, want 1", c.Recorder().Count("call.accepted"))
	}
}

func TestCorrelator_FirstRegisteredWaiterWins(t *testing.T) {
	c := newTestCorrelator(t)

	first, _ := c.Register([]string{"call:update"}, nil, time.Second)
	second, _ := c.Register([]string{"call:update"}, nil, time.Second)

	c.OnEvent(event("call:update", `{"n":1}`))

	<-first.Done()
	if second.State() != StatePending {
		t.Fatalf("second waiter state = %s, want pending", second.State())
	}

	c.OnEvent(event("call:update", `{"n":2}`))
	<-second.Done()

	ev1, _ := first.Result()
	ev2, _ := second.Result()
	if string(ev1.Payload) != `{"n":1}` || string(ev2.Payload) != `{"n":2}` {
		t.Errorf("payloads = %s, %s", ev1.Payload, ev2.Payload)
	}
}

func TestCorrelator_PredicateFiltersWithoutConsuming(t *testing.T) {
	c := newTestCorrelator(t)

	forC2, _ := c.Register([]string{"call.declined"}, ForCall("c2"), time.Second)
	forC1, _ := c.Register([]string{"call.declined"}, ForCall("c1"), time.Second)

	c.OnEvent(event("call.declined", `{"callId":"c1","reason":"busy"}`))

	<-forC1.Done()
	if forC2.State() != StatePending {
		t.Errorf("non-matching waiter state = %s", forC2.State())
	}
	ev, ok := forC1.Result()
	if !ok || string(ev.Payload) != `{"callId":"c1","reason":"busy"}` {
		t.Errorf("Result = (%s, %v)", ev.Payload, ok)
	}
}

func TestCorrelator_TimeoutDeregisters(t *testing.T) {
	c := newTestCorrelator(t)

	w, _ := c.Register([]string{"call.ended"}, nil, 50*time.Millisecond)
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("waiter did not expire")
	}
	if w.State() != StateExpired {
		t.Fatalf("State = %s, want expired", w.State())
	}
	if c.Pending() != 0 {
		t.Fatalf("expired waiter still registered")
	}

	c.OnEvent(event("call.ended", `{}`))
	if _, ok := w.Result(); ok {
		t.Error("expired waiter resolved by a later event")
	}
}

func TestCorrelator_CloseExpiresAllWaiters(t *testing.T) {
	c := New("close", recorder.New("s", nil), time.Minute)

	const n = 5
	waiters := make([]*Waiter, n)
	for i := range waiters {
		waiters[i], _ = c.Register([]string{fmt.Sprintf("event-%d", i)}, nil, time.Minute)
	}

	start := time.Now()
	c.Close()
	for i, w := range waiters {
		select {
		case <-w.Done():
		case <-time.After(time.Second):
			t.Fatalf("waiter %d not released by Close", i)
		}
		if w.State() != StateExpired {
			t.Errorf("waiter %d state = %s", i, w.State())
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Close took %v; waiters should not wait for their timeouts", elapsed)
	}

	if _, err := c.Register([]string{"x"}, nil, time.Second); !errors.Is(err, ErrCorrelatorClosed) {
		t.Errorf("Register after Close = %v, want ErrCorrelatorClosed", err)
	}
	c.Close()

	c.OnEvent(event("event-0", `{}`))
	if c.Recorder().Count("event-0") != 1 {
		t.Error("events after close should still be recorded")
	}
}

func TestCorrelator_WaitForAnyOf(t *testing.T) {
	c := newTestCorrelator(t)
	names := []string{"call.ended", "call:update"}

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.OnEvent(event("call:update", `{"state":"ended"}`))
		c.OnEvent(event("call.ended", `{}`))
	}()

	got := c.WaitForAnyOf(context.Background(), names, time.Second)
	if len(got) != 2 {
		t.Fatalf("map has %d entries, want 2", len(got))
	}
	if got["call:update"] == nil {
		t.Fatal("first arrival missing")
	}
	if got["call.ended"] != nil {
		t.Error("second arrival should not be reported")
	}
}

func TestCorrelator_WaitForAnyOfTimeout(t *testing.T) {
	c := newTestCorrelator(t)
	got := c.WaitForAnyOf(context.Background(), []string{"a", "b"}, 50*time.Millisecond)
	for name, ev := range got {
		if ev != nil {
			t.Errorf("%s = %+v, want nil", name, ev)
		}
	}
	if len(got) != 2 {
		t.Errorf("map has %d entries, want 2", len(got))
	}
}

func TestCorrelator_ContextCancelExpiresWaiter(t *testing.T) {
	c := newTestCorrelator(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, ok := c.WaitForEvent(ctx, "never", time.Minute); ok {
		t.Fatal("canceled wait reported success")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d after cancel", c.Pending())
	}
}

func TestCorrelator_PanickingPredicateIsNoMatch(t *testing.T) {
	c := newTestCorrelator(t)

	bad, _ := c.Register([]string{"x"}, func(types.Event) bool { panic("boom") }, time.Second)
	good, _ := c.Register([]string{"x"}, nil, time.Second)

	c.OnEvent(event("x", `{}`))
	<-good.Done()
	if bad.State() != StatePending {
		t.Errorf("panicking waiter state = %s", bad.State())
	}
}

func TestCorrelator_RegisterValidation(t *testing.T) {
	c := newTestCorrelator(t)
	if _, err := c.Register(nil, nil, time.Second); !errors.Is(err, ErrNoEventNames) {
		t.Errorf("nil names error = %v", err)
	}
	if _, err := c.Register([]string{""}, nil, time.Second); !errors.Is(err, ErrEmptyEventName) {
		t.Errorf("empty name error = %v", err)
	}
	w, err := c.Register([]string{"x"}, nil, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if w.Timeout() != time.Second {
		t.Errorf("default timeout = %v, want 1s", w.Timeout())
	}
}

// Each event must be consumed by at most one waiter even under contention
func TestCorrelator_ConcurrentDispatchAtMostOnce(t *testing.T) {
	c := New("race", recorder.New("s", nil), 2*time.Second)
	defer c.Close()

	const n = 50
	waiters := make([]*Waiter, n)
	for i := range waiters {
		waiters[i], _ = c.Register([]string{"tick"}, nil, 2*time.Second)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.OnEvent(event("tick", fmt.Sprintf(`{"i":%d}`, i)))
		}(i)
	}
	wg.Wait()

	var resolved int32
	seen := make(map[string]bool)
	for _, w := range waiters {
		<-w.Done()
		if ev, ok := w.Result(); ok {
			atomic.AddInt32(&resolved, 1)
			if seen[string(ev.Payload)] {
				t.Errorf("payload %s consumed twice", ev.Payload)
			}
			seen[string(ev.Payload)] = true
		}
	}
	if resolved != n {
		t.Errorf("resolved = %d, want %d", resolved, n)
	}
	if c.Recorder().Len() != n {
		t.Errorf("recorded = %d, want %d", c.Recorder().Len(), n)
	}
}

func TestPredicates(t *testing.T) {
	ev := event("call.initiated", `{"callId":"c1","client":{"id":"u7","name":"Ada"}}`)

	if !FieldEquals("client.id", "u7")(ev) {
		t.Error("nested FieldEquals should match")
	}
	if FieldEquals("client.id", "u8")(ev) {
		t.Error("FieldEquals matched wrong value")
	}
	if FieldEquals("missing", "")(ev) {
		t.Error("FieldEquals matched a missing path against empty string")
	}
	if !FieldPresent("client.name")(ev) || FieldPresent("reason")(ev) {
		t.Error("FieldPresent mismatch")
	}
	if !All(ForCall("c1"), FieldEquals("client.name", "Ada"))(ev) {
		t.Error("All should match")
	}
	if All(ForCall("c1"), ForCall("c2"))(ev) {
		t.Error("All should fail when one predicate fails")
	}
}
