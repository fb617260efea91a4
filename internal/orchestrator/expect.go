package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"callprobe/internal/correlator"
	"callprobe/pkg/types"
)

// Expectation is an event an actor should observe as a result of an action
type Expectation struct {
	Actor     *Actor
	Names     []string
	Predicate correlator.Predicate
	Timeout   time.Duration
}

// Expect builds an expectation that actor receives any of names
func Expect(actor *Actor, names ...string) Expectation {
	return Expectation{Actor: actor, Names: names}
}

// Where narrows the expectation with a payload predicate
func (e Expectation) Where(pred correlator.Predicate) Expectation {
	e.Predicate = pred
	return e
}

// ForCall narrows the expectation to payloads for callID
func (e Expectation) ForCall(callID string) Expectation {
	return e.Where(correlator.All(e.Predicate, correlator.ForCall(callID)))
}

// Within overrides the waiter timeout
func (e Expectation) Within(d time.Duration) Expectation {
	e.Timeout = d
	return e
}

func (e Expectation) String() string {
	name := "<nil>"
	if e.Actor != nil {
		name = e.Actor.Name
	}
	return fmt.Sprintf("%s <- %s", name, strings.Join(e.Names, "|"))
}

// Outcome is the settled result of one expectation. Matched false means the
// waiter timed out; that is a value, not an error. Err is set only when the
// actor's connection dropped while the waiter was pending.
type Outcome struct {
	Expectation Expectation
	Event       types.Event
	Matched     bool
	Err         error
}

// Outcomes keeps the order of the expectations passed to Do
type Outcomes []Outcome

// AllMatched reports whether every expectation was met
func (oc Outcomes) AllMatched() bool {
	for _, o := range oc {
		if !o.Matched {
			return false
		}
	}
	return true
}

// Unmatched lists expectations that were not met, including those cut short
// by a dropped connection
func (oc Outcomes) Unmatched() []Expectation {
	var out []Expectation
	for _, o := range oc {
		if !o.Matched {
			out = append(out, o.Expectation)
		}
	}
	return out
}

// Err returns nil when every expectation matched. A dropped connection is
// reported as the session error, which wraps session.ErrConnectionDropped;
// plain timeouts are reported as ErrUnmetEvent naming the missed expectations.
func (oc Outcomes) Err() error {
	var (
		errs   []error
		missed []string
	)
	for _, o := range oc {
		switch {
		case o.Matched:
		case o.Err != nil:
			errs = append(errs, o.Err)
		default:
			missed = append(missed, o.Expectation.String())
		}
	}
	if len(missed) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrUnmetEvent, strings.Join(missed, ", ")))
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

// Do registers every expectation, then runs action, then waits for all of
// them. A registration or action failure cancels the waiters already
// registered and is returned as the error; timeouts are reported only
// through the outcomes, as is a connection that drops while waiting.
// ARCHITECTURAL DISCOVERY: The service emits synchronously inside the REST
// handler and does not replay. A waiter registered after the trigger can
// miss an event that already went out, so registration always happens
// first here rather than being left to each scenario.
func (o *Orchestrator) Do(ctx context.Context, action func(ctx context.Context) error, expectations ...Expectation) (Outcomes, error) {
	waiters := make([]*correlator.Waiter, 0, len(expectations))
	cancelAll := func() {
		for _, w := range waiters {
			w.Cancel()
		}
	}

	for _, e := range expectations {
		if e.Actor == nil || e.Actor.Session == nil {
			cancelAll()
			return nil, fmt.Errorf("%w: %s", ErrNoActor, e)
		}
		timeout := e.Timeout
		if timeout <= 0 {
			timeout = o.cfg.Timeouts.Event
		}
		w, err := e.Actor.Session.Expect(e.Names, e.Predicate, timeout)
		if err != nil {
			cancelAll()
			return nil, fmt.Errorf("register %s: %w", e, err)
		}
		waiters = append(waiters, w)
	}

	if action != nil {
		if err := action(ctx); err != nil {
			cancelAll()
			return nil, err
		}
	}

	// Every timer started at registration, so waiting in order costs no
	// more than the longest timeout.
	outcomes := make(Outcomes, len(expectations))
	for i, w := range waiters {
		ev, ok := w.Wait(ctx)
		outcomes[i] = Outcome{Expectation: expectations[i], Event: ev, Matched: ok}
		// TECHNICAL DISCOVERY: A drop force-expires the waiter exactly like a
		// timeout, so the session error is the only way to tell them apart.
		if !ok {
			if err := expectations[i].Actor.Session.Err(); err != nil {
				outcomes[i].Err = fmt.Errorf("%s: %w", expectations[i], err)
				log.Printf("[Orchestrator] %s cut short: %v", expectations[i], err)
			}
		}
	}
	return outcomes, nil
}
