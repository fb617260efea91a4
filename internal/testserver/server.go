// Package testserver is an in-process stand-in for the call-center service:
// the REST endpoints, the Socket.IO push channel and the room fan-out that
// the harness observes. Scenarios run against it unless a live service is
// configured.
package testserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"callprobe/internal/config"
	"callprobe/pkg/types"
)

// Options configures a Server. Zero values take the service's defaults.
type Options struct {
	SocketPath    string
	Namespace     string
	StaffPassword string
	PingInterval  time.Duration
	PingTimeout   time.Duration
	// EventDelay holds every emission back before delivery
	EventDelay time.Duration
}

// OptionsFromConfig builds server options from harness configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SocketPath:    cfg.Socket.Path,
		Namespace:     cfg.Socket.Namespace,
		StaffPassword: cfg.Credentials.StaffPassword,
		PingInterval:  cfg.Server.PingInterval,
		PingTimeout:   cfg.Server.PingTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := config.DefaultConfig()
	if o.SocketPath == "" {
		o.SocketPath = d.Socket.Path
	}
	if o.Namespace == "" {
		o.Namespace = d.Socket.Namespace
	}
	if o.StaffPassword == "" {
		o.StaffPassword = d.Credentials.StaffPassword
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.Server.PingInterval
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = d.Server.PingTimeout
	}
	return o
}

// Server wires the fake service's components together.
// Initialization order: tokens → registry → hub → call center → HTTP.
type Server struct {
	opts     Options
	tokens   *tokenStore
	registry *roomRegistry
	hub      *hub
	center   *callCenter
	api      *apiServer
	sockets  *socketHandler
	mux      *http.ServeMux

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	httpServer *http.Server
	url        string
	closed     bool
}

// New builds a server and starts its event hub. Call Start to listen or use
// Handler with an existing listener.
func New(opts Options) (*Server, error) {
	opts = opts.withDefaults()

	s := &Server{
		opts:     opts,
		tokens:   newTokenStore(opts.StaffPassword),
		registry: newRoomRegistry(),
	}
	s.hub = newHub(s.registry, opts.Namespace, opts.EventDelay)
	s.center = newCallCenter(s.hub)
	s.api = newAPIServer(s.tokens, s.center, s.registry.Stats)
	s.sockets = newSocketHandler(opts.Namespace, opts.PingInterval, opts.PingTimeout, s.tokens, s.registry, s.hub)

	s.mux = http.NewServeMux()
	socketPath := strings.TrimSuffix(opts.SocketPath, "/") + "/"
	s.mux.Handle(socketPath, s.sockets)
	s.mux.Handle("/", s.api)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := s.hub.Start(s.ctx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to start event hub: %w", err)
	}
	return s, nil
}

// Handler serves both the REST API and the socket endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr (use "127.0.0.1:0" for an ephemeral port) and serves
// in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.url = "http://" + ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[FakeCenter] HTTP server error: %v", err)
		}
	}()
	log.Printf("[FakeCenter] listening on %s", s.URL())
	return nil
}

// URL is the base URL once Start has succeeded
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Close stops the HTTP server, drops every socket and stops the hub
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = srv.Shutdown(ctx)
		cancel()
	}
	s.sockets.DropAll()
	if hubErr := s.hub.Stop(); hubErr != nil && !errors.Is(hubErr, ErrHubNotRunning) {
		err = errors.Join(err, hubErr)
	}
	s.cancel()
	return err
}

// Test hooks

// EmitTo pushes an arbitrary event to the members of room
func (s *Server) EmitTo(room types.Room, name string, payload any) error {
	return s.hub.Emit([]string{room.String()}, name, payload)
}

// Broadcast pushes an arbitrary event to every connected socket
func (s *Server) Broadcast(name string, payload any) error {
	return s.hub.Broadcast(name, payload)
}

// DropConnections closes every socket without a namespace DISCONNECT
func (s *Server) DropConnections() int {
	return s.sockets.DropAll()
}

// DisconnectAll sends a namespace DISCONNECT to every socket before closing
func (s *Server) DisconnectAll() int {
	return s.sockets.DisconnectAll()
}

// ConnectionCount is the number of namespace-connected sockets
func (s *Server) ConnectionCount() int {
	return s.registry.Stats()["total_connections"]
}

// RoomSize is the number of sockets in room
func (s *Server) RoomSize(room types.Room) int {
	return s.registry.RoomSize(room.String())
}

// Call returns the server's record of a call
func (s *Server) Call(callID string) (*Call, error) {
	return s.center.Get(callID)
}

// SetAvailability changes a staff member's status without going through REST
func (s *Server) SetAvailability(staffID, status string) error {
	_, err := s.center.SetAvailability(staffID, status, types.DefaultOrgID, nil)
	return err
}
