package fixtures

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"callprobe/internal/config"
	"callprobe/internal/database"
	"callprobe/internal/orchestrator"
	"callprobe/internal/restapi"
	"callprobe/internal/testserver"
	"callprobe/pkg/types"
)

// ScenarioRunner wires one scenario to a service: the in-process fake by
// default, or the configured remote when CALLPROBE_LIVE is set.
type ScenarioRunner struct {
	Config       *config.Config
	API          *restapi.Client
	Orchestrator *orchestrator.Orchestrator

	// Server is nil against a live service
	Server  *testserver.Server
	Archive *database.Manager
	RunID   string

	t *testing.T
}

type runnerSettings struct {
	archivePath string
	configure   []func(*config.Config)
	server      []func(*testserver.Options)
}

// RunnerOption customizes NewScenarioRunner
type RunnerOption func(*runnerSettings)

// WithArchive records every event of the scenario into a SQLite archive at
// path. An empty path puts the archive in the test's temp dir.
func WithArchive(path string) RunnerOption {
	return func(s *runnerSettings) {
		s.archivePath = path
		if path == "" {
			s.archivePath = "-"
		}
	}
}

// WithConfig adjusts the harness configuration before anything is built
func WithConfig(fn func(*config.Config)) RunnerOption {
	return func(s *runnerSettings) { s.configure = append(s.configure, fn) }
}

// WithServerOptions adjusts the fake service. Ignored against a live one.
func WithServerOptions(fn func(*testserver.Options)) RunnerOption {
	return func(s *runnerSettings) { s.server = append(s.server, fn) }
}

// NewScenarioRunner builds the config, service, REST client, orchestrator
// and optional archive for one test. Everything is released through
// t.Cleanup: calls and sessions first, then the archive, then the service.
func NewScenarioRunner(t *testing.T, opts ...RunnerOption) *ScenarioRunner {
	t.Helper()

	var settings runnerSettings
	for _, opt := range opts {
		opt(&settings)
	}

	cfg, err := config.LoadConfigWithPrecedence(os.Getenv("CALLPROBE_CONFIG_FILE"))
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	r := &ScenarioRunner{Config: cfg, t: t}
	var closers []func()

	if !cfg.Service.Live {
		serverOpts := testserver.OptionsFromConfig(cfg)
		for _, fn := range settings.server {
			fn(&serverOpts)
		}
		srv, err := testserver.New(serverOpts)
		if err != nil {
			t.Fatalf("Failed to create fake call center: %v", err)
		}
		hs := httptest.NewServer(srv.Handler())
		closers = append(closers, func() {
			hs.Close()
			_ = srv.Close()
		})
		r.Server = srv

		// Hermetic runs can afford tight timings
		cfg.Service.BaseURL = hs.URL
		cfg.Service.RequestsPerSecond = 0
		cfg.Timeouts.Event = 3 * time.Second
		cfg.Timeouts.Settling = 50 * time.Millisecond
		cfg.Timeouts.Teardown = 3 * time.Second
	}

	switch settings.archivePath {
	case "":
	case "-":
		cfg.Archive.Path = filepath.Join(t.TempDir(), "events.db")
	default:
		cfg.Archive.Path = settings.archivePath
	}

	for _, fn := range settings.configure {
		fn(cfg)
	}
	if err := cfg.Validate(); err != nil {
		runClosers(closers)
		t.Fatalf("Invalid scenario configuration: %v", err)
	}

	r.API = restapi.NewFromConfig(cfg)

	var orchOpts []orchestrator.Option
	if cfg.Archive.Path != "" {
		archive, err := database.NewManager(database.ConfigFromHarness(cfg))
		if err != nil {
			runClosers(closers)
			t.Fatalf("Failed to open event archive: %v", err)
		}
		runID, err := archive.StartRun(context.Background(), t.Name(), cfg.Service.BaseURL)
		if err != nil {
			_ = archive.Close()
			runClosers(closers)
			t.Fatalf("Failed to start archive run: %v", err)
		}
		r.Archive = archive
		r.RunID = runID
		orchOpts = append(orchOpts, orchestrator.WithSink(archive))
	}

	o, err := orchestrator.New(cfg, r.API, orchOpts...)
	if err != nil {
		runClosers(closers)
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	r.Orchestrator = o

	t.Cleanup(func() {
		if t.Failed() {
			o.DumpEvents()
		}
		o.Cleanup()
		if r.Archive != nil {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Teardown)
			if err := r.Archive.FinishRun(ctx, r.RunID, !t.Failed()); err != nil {
				t.Logf("archive run not finished: %v", err)
			}
			cancel()
			if err := r.Archive.Close(); err != nil {
				t.Logf("archive close: %v", err)
			}
		}
		runClosers(closers)
	})
	return r
}

func runClosers(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// Live reports whether the runner targets a remote service
func (r *ScenarioRunner) Live() bool {
	return r.Server == nil
}

// RequireFakeService skips the test when it needs fake-service hooks
func (r *ScenarioRunner) RequireFakeService() *testserver.Server {
	r.t.Helper()
	if r.Server == nil {
		r.t.Skip("scenario needs the in-process call center")
	}
	return r.Server
}

// StaffEmail returns the account a staff actor logs in with. A live service
// only knows the configured account; the fake accepts any address.
func (r *ScenarioRunner) StaffEmail(prefix string) string {
	if r.Live() {
		return r.Config.Credentials.StaffEmail
	}
	return UniqueStaffEmail(prefix)
}

// Context returns a context bounded by the test deadline when one is set
func (r *ScenarioRunner) Context() context.Context {
	ctx := context.Background()
	if deadline, ok := r.t.Deadline(); ok {
		c, cancel := context.WithDeadline(ctx, deadline)
		r.t.Cleanup(cancel)
		return c
	}
	return ctx
}

// OpenStaff opens an available staff actor with a fresh account
func (r *ScenarioRunner) OpenStaff(name string) *orchestrator.Actor {
	r.t.Helper()
	a, err := r.Orchestrator.OpenStaff(r.Context(), name, r.StaffEmail(name))
	if err != nil {
		r.t.Fatalf("Failed to open staff %s: %v", name, err)
	}
	return a
}

// OpenClient opens a client actor with a unique id and the given display
// name; an empty name keeps the configured one.
func (r *ScenarioRunner) OpenClient(name, displayName string) *orchestrator.Actor {
	r.t.Helper()
	spec := orchestrator.Client(name)
	spec.ClientName = displayName
	a, err := r.Orchestrator.OpenActor(r.Context(), spec)
	if err != nil {
		r.t.Fatalf("Failed to open client %s: %v", name, err)
	}
	return a
}

// OpenPair opens one staff and one client concurrently
func (r *ScenarioRunner) OpenPair(scenario *CallScenario) (staff, client *orchestrator.Actor) {
	r.t.Helper()
	staffSpec := orchestrator.Staff("staff", r.StaffEmail("staff"))
	staffSpec.Availability = types.AvailabilityAvailable
	if !r.Live() && len(scenario.StaffEmails) > 0 {
		staffSpec.Email = scenario.StaffEmails[0]
	}
	clientSpec := orchestrator.Client("client")
	if len(scenario.ClientNames) > 0 {
		clientSpec.ClientName = scenario.ClientNames[0]
	}

	actors, err := r.Orchestrator.OpenActors(r.Context(), staffSpec, clientSpec)
	if err != nil {
		r.t.Fatalf("Failed to open staff and client: %v", err)
	}
	return actors[0], actors[1]
}
