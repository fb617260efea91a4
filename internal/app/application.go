// Package app assembles the standalone fake call-center service.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"

	"callprobe/internal/config"
	"callprobe/internal/testserver"
)

// Application owns the fake service and the address it listens on
type Application struct {
	config *config.Config
	server *testserver.Server
	addr   string
}

// NewApplication validates cfg and builds the service without listening.
// A nil cfg uses the defaults.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	server, err := testserver.New(testserver.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create fake call center: %w", err)
	}

	return &Application{
		config: cfg,
		server: server,
		addr:   net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
	}, nil
}

// Addr is the configured listen address
func (app *Application) Addr() string {
	return app.addr
}

// URL is the base URL harness clients should use once started
func (app *Application) URL() string {
	return app.server.URL()
}

// Server exposes the underlying service for test hooks
func (app *Application) Server() *testserver.Server {
	return app.server
}

// Start begins listening. It returns once the listener is bound.
func (app *Application) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Printf("[FakeCenter] starting on %s (socket %s, namespace %s)",
		app.addr, app.config.Socket.Path, app.config.Socket.Namespace)
	if err := app.server.Start(app.addr); err != nil {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down, drops every socket and stops the hub
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("[FakeCenter] shutting down")
	done := make(chan error, 1)
	go func() { done <- app.server.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Printf("[FakeCenter] shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
