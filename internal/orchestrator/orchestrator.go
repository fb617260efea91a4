// Package orchestrator coordinates the actors of a scenario: it logs them
// in, opens their sessions, registers expectations before each REST trigger
// and releases everything the scenario touched on the way out.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"callprobe/internal/config"
	"callprobe/internal/recorder"
	"callprobe/internal/restapi"
	"callprobe/internal/rooms"
	"callprobe/internal/session"
	"callprobe/pkg/types"
)

// CallAPI is the REST surface scenarios drive. *restapi.Client implements it.
type CallAPI interface {
	LoginStaff(ctx context.Context, email, password string) (*restapi.StaffLogin, error)
	LoginClient(ctx context.Context, username string) (string, error)
	SetAvailability(ctx context.Context, token, status, orgID string, skills []string) error
	CreateCall(ctx context.Context, token string, req restapi.CallRequest) (*restapi.CallResult, error)
	AcceptCall(ctx context.Context, token, callID string) (*restapi.CallResult, error)
	DeclineCall(ctx context.Context, token, callID, reason string) (*restapi.CallResult, error)
	EndCall(ctx context.Context, token, callID string) (*restapi.CallResult, error)
	CleanupCall(ctx context.Context, token, callID string) error
	UpdateTimetable(ctx context.Context, token, facultyID string, tt types.Timetable) (*types.Timetable, error)
}

var _ CallAPI = (*restapi.Client)(nil)

// SessionSink is implemented by sinks that also want to know which sessions
// exist, such as the event archive.
type SessionSink interface {
	recorder.Sink
	RecordSession(id, label string, role types.Role) error
}

// Actor is one logged-in participant with an open session
type Actor struct {
	Name       string
	Role       types.Role
	Token      string
	StaffID    string
	ClientID   string
	ClientName string
	Session    *session.Session
}

// Recorder returns the actor's event log
func (a *Actor) Recorder() *recorder.Recorder {
	return a.Session.Recorder()
}

// ActorSpec describes an actor to open. Empty fields fall back to the
// configured credentials.
type ActorSpec struct {
	Name     string
	Role     types.Role
	Email    string
	Password string

	// ClientID empty means a fresh unique id
	ClientID   string
	ClientName string

	// Availability is set after login when non-empty (staff only)
	Availability string
	Skills       []string
}

// Staff describes a staff actor logging in as email
func Staff(name, email string) ActorSpec {
	return ActorSpec{Name: name, Role: types.RoleStaff, Email: email}
}

// Client describes a client actor with a unique id
func Client(name string) ActorSpec {
	return ActorSpec{Name: name, Role: types.RoleClient}
}

type trackedCall struct {
	token  string
	callID string
}

// Orchestrator owns every actor and call opened during one scenario.
// ARCHITECTURAL DISCOVERY: Nothing here is global. Two orchestrators built
// from two configs never share sessions, correlators or tracked calls, so
// scenarios can run in parallel.
type Orchestrator struct {
	cfg      *config.Config
	api      CallAPI
	rooms    *rooms.Subscriber
	registry *session.Registry
	sink     recorder.Sink

	mu     sync.Mutex
	actors []*Actor
	calls  []trackedCall
	closed bool
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithSink forwards every recorded event of every actor to sink
func WithSink(sink recorder.Sink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// New validates cfg and builds an orchestrator driving api
func New(cfg *config.Config, api CallAPI, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if api == nil {
		return nil, ErrNilAPI
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	o := &Orchestrator{
		cfg:      cfg,
		api:      api,
		rooms:    rooms.NewSubscriber(cfg.Timeouts.Settling),
		registry: session.NewRegistry(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) Config() *config.Config   { return o.cfg }
func (o *Orchestrator) API() CallAPI             { return o.api }
func (o *Orchestrator) Rooms() *rooms.Subscriber { return o.rooms }

// Actors returns opened actors in open order
func (o *Orchestrator) Actors() []*Actor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Actor(nil), o.actors...)
}

// Actor looks up an opened actor by name
func (o *Orchestrator) Actor(name string) (*Actor, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, a := range o.actors {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// OpenStaff logs in a staff account, opens its session and joins its
// notification room. Staff are marked available in the configured org.
func (o *Orchestrator) OpenStaff(ctx context.Context, name, email string) (*Actor, error) {
	spec := Staff(name, email)
	spec.Availability = types.AvailabilityAvailable
	return o.OpenActor(ctx, spec)
}

// OpenClient logs in a client under a unique id and opens its session
func (o *Orchestrator) OpenClient(ctx context.Context, name string) (*Actor, error) {
	return o.OpenActor(ctx, Client(name))
}

// OpenActors opens every spec concurrently. Actors that opened before a
// failure stay tracked and are released by Cleanup.
func (o *Orchestrator) OpenActors(ctx context.Context, specs ...ActorSpec) ([]*Actor, error) {
	actors := make([]*Actor, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			a, err := o.OpenActor(gctx, spec)
			if err != nil {
				return err
			}
			actors[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return actors, nil
}

// OpenActor logs in one actor and opens its session
func (o *Orchestrator) OpenActor(ctx context.Context, spec ActorSpec) (*Actor, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	if spec.Name == "" {
		spec.Name = string(spec.Role)
	}

	var (
		actor *Actor
		err   error
	)
	switch spec.Role {
	case types.RoleStaff:
		actor, err = o.loginStaff(ctx, spec)
	case types.RoleClient:
		actor, err = o.loginClient(ctx, spec)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, spec.Role)
	}
	if err != nil {
		return nil, &ActorError{Actor: spec.Name, Stage: "login", Err: err}
	}

	if err := o.attach(ctx, actor); err != nil {
		return nil, &ActorError{Actor: spec.Name, Stage: "session", Err: err}
	}

	if actor.Role == types.RoleStaff {
		if !o.rooms.JoinStaff(ctx, actor.Session, actor.StaffID) {
			return nil, &ActorError{Actor: spec.Name, Stage: "join", Err: ErrRoomJoin}
		}
	}
	log.Printf("[Orchestrator] opened %s actor %s", actor.Role, actor.Name)
	return actor, nil
}

func (o *Orchestrator) loginStaff(ctx context.Context, spec ActorSpec) (*Actor, error) {
	email := spec.Email
	if email == "" {
		email = o.cfg.Credentials.StaffEmail
	}
	password := spec.Password
	if password == "" {
		password = o.cfg.Credentials.StaffPassword
	}
	login, err := o.api.LoginStaff(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if spec.Availability != "" {
		if err := o.api.SetAvailability(ctx, login.Token, spec.Availability, o.cfg.Credentials.OrgID, spec.Skills); err != nil {
			return nil, err
		}
	}
	return &Actor{
		Name:    spec.Name,
		Role:    types.RoleStaff,
		Token:   login.Token,
		StaffID: login.StaffID,
	}, nil
}

// FUNCTIONAL DISCOVERY: The service scopes client rooms by user id, so two
// scenarios sharing one client id would see each other's call events.
// Every client gets a fresh id unless one is pinned explicitly.
func (o *Orchestrator) loginClient(ctx context.Context, spec ActorSpec) (*Actor, error) {
	clientID := spec.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("%s-%s", o.cfg.Credentials.ClientID, uuid.NewString()[:8])
	}
	name := spec.ClientName
	if name == "" {
		name = o.cfg.Credentials.ClientName
	}
	token, err := o.api.LoginClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return &Actor{
		Name:       spec.Name,
		Role:       types.RoleClient,
		Token:      token,
		ClientID:   clientID,
		ClientName: name,
	}, nil
}

func (o *Orchestrator) attach(ctx context.Context, actor *Actor) error {
	opts := session.OptionsFromConfig(o.cfg, actor.Name)
	opts.Sink = o.sink
	sess, err := session.Open(ctx, actor.Role, actor.Token, opts)
	if err != nil {
		return err
	}
	actor.Session = sess

	if ss, ok := o.sink.(SessionSink); ok {
		if err := ss.RecordSession(sess.ID(), actor.Name, actor.Role); err != nil {
			log.Printf("[Orchestrator] archive session %s: %v", actor.Name, err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		_ = sess.Close()
		return ErrClosed
	}
	if err := o.registry.Add(sess); err != nil {
		_ = sess.Close()
		return err
	}
	o.actors = append(o.actors, actor)
	return nil
}

// TrackCall records a call for release during Cleanup. token should belong
// to the caller so a cancel is authorized.
func (o *Orchestrator) TrackCall(token, callID string) {
	if callID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.calls {
		if c.callID == callID {
			return
		}
	}
	o.calls = append(o.calls, trackedCall{token: token, callID: callID})
}

// TrackedCalls lists tracked call ids in tracking order
func (o *Orchestrator) TrackedCalls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.calls))
	for _, c := range o.calls {
		out = append(out, c.callID)
	}
	return out
}

// Cleanup releases every tracked call and closes every session. Failures
// are logged and never returned, and a second call is a no-op.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	calls := o.calls
	o.calls = nil
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), o.teardownTimeout())
	defer cancel()

	for i := len(calls) - 1; i >= 0; i-- {
		c := calls[i]
		if err := o.api.CleanupCall(ctx, c.token, c.callID); err != nil {
			log.Printf("[Orchestrator] ignoring cleanup failure for call %s: %v", c.callID, err)
		}
	}
	closed := o.registry.CloseAll()
	log.Printf("[Orchestrator] cleanup released %d calls, closed %d sessions", len(calls), closed)
}

func (o *Orchestrator) teardownTimeout() time.Duration {
	if o.cfg.Timeouts.Teardown > 0 {
		return o.cfg.Timeouts.Teardown
	}
	return 10 * time.Second
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// DumpEvents logs every actor's recorded events in arrival order
func (o *Orchestrator) DumpEvents() {
	for _, a := range o.Actors() {
		events := a.Recorder().Events()
		log.Printf("[Orchestrator] %s (%s) recorded %d events", a.Name, a.Role, len(events))
		for _, ev := range events {
			log.Printf("[Orchestrator]   #%d %s %s %s", ev.Seq, ev.ReceivedAt.Format(time.RFC3339Nano), ev.Name, ev.Payload)
		}
	}
}

// Run builds an orchestrator, runs fn and always cleans up. A failing or
// panicking fn gets the recorded events dumped first; a panic comes back as
// an error wrapping ErrScenarioPanic.
func Run(ctx context.Context, cfg *config.Config, api CallAPI, fn func(ctx context.Context, o *Orchestrator) error, opts ...Option) (err error) {
	o, err := New(cfg, api, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrScenarioPanic, r)
		}
		if err != nil {
			o.DumpEvents()
		}
		o.Cleanup()
	}()
	return fn(ctx, o)
}
