// Package database archives every event the harness observes into SQLite so
// a failed run can be inspected after the fact.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	// ARCHITECTURAL DISCOVERY: Driver registered for its side effect only
	_ "github.com/mattn/go-sqlite3"

	"callprobe/internal/config"
	dbconfig "callprobe/pkg/database"
	"callprobe/pkg/types"
)

// Run status values stored in runs.status
const (
	RunRunning = "running"
	RunPassed  = "passed"
	RunFailed  = "failed"
)

var (
	ErrClosed       = errors.New("archive is closed")
	ErrQueueFull    = errors.New("archive write queue is full")
	ErrNoActiveRun  = errors.New("no active run")
	ErrRunNotFound  = errors.New("run not found")
	ErrWriteTimeout = errors.New("archive write timed out")
)

// SessionRecord is one archived session row
type SessionRecord struct {
	ID       string
	RunID    string
	Label    string
	Role     types.Role
	OpenedAt time.Time
}

// RunRecord is one archived run row
type RunRecord struct {
	ID         string
	Name       string
	BaseURL    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}

// Manager owns the archive connection and its single writer goroutine.
// It implements recorder.Sink.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: single writer for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	dropped      atomic.Int64
	closed       atomic.Bool
	closeOnce    sync.Once

	// closeMu orders event sends before the shutdown signal
	closeMu sync.RWMutex

	mu    sync.RWMutex
	runID string
}

// writeOperation is one queued write. result is nil for fire-and-forget
// event inserts.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// ConfigFromHarness maps the harness archive section onto database settings
func ConfigFromHarness(cfg *config.Config) *dbconfig.Config {
	dc := dbconfig.DefaultConfig()
	if cfg != nil && cfg.Archive != nil {
		if cfg.Archive.Path != "" {
			dc.DatabasePath = cfg.Archive.Path
		}
		if cfg.Archive.Timeout > 0 {
			dc.WriteTimeout = cfg.Archive.Timeout
			dc.ConnMaxIdleTime = cfg.Archive.Timeout / 3
		}
	}
	return dc
}

// NewManager opens the archive, applies embedded migrations and starts the
// writer goroutine.
func NewManager(cfg *dbconfig.Config) (*Manager, error) {
	if cfg == nil {
		cfg = dbconfig.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive configuration: %w", err)
	}
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// FUNCTIONAL DISCOVERY: Pool size matters only for readers; writes all
	// go through writeLoop.
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       cfg,
		writeChannel: make(chan writeOperation, cfg.WriteQueueSize),
		shutdown:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()

	log.Printf("[Archive] writing events to %s", cfg.DatabasePath)
	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case op := <-m.writeChannel:
			m.run(op)
		case <-m.shutdown:
			// Drain what was queued before Close so no accepted event is lost
			for {
				select {
				case op := <-m.writeChannel:
					m.run(op)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) run(op writeOperation) {
	err := op.operation(m.db)
	if err != nil {
		log.Printf("[Archive] write failed: %v", err)
	}
	if op.result != nil {
		op.result <- err
	}
}

// executeWrite queues a write and waits for it to finish
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	if m.closed.Load() {
		return ErrClosed
	}

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-timer.C:
		return ErrWriteTimeout
	}
}

// StartRun opens a new run and makes it the target of RecordSession
func (m *Manager) StartRun(ctx context.Context, name, baseURL string) (string, error) {
	id := uuid.NewString()
	err := m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO runs (id, name, base_url, started_at, status) VALUES (?, ?, ?, ?, ?)`,
			id, name, baseURL, time.Now().UTC(), RunRunning)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.runID = id
	m.mu.Unlock()
	return id, nil
}

// FinishRun stamps the run's end time and outcome
func (m *Manager) FinishRun(ctx context.Context, runID string, passed bool) error {
	status := RunFailed
	if passed {
		status = RunPassed
	}
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE runs SET finished_at = ?, status = ? WHERE id = ?`,
			time.Now().UTC(), status, runID)
		if err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}

// CurrentRun returns the run started last, if any
func (m *Manager) CurrentRun() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runID
}

// RecordSession archives a session under the current run
func (m *Manager) RecordSession(id, label string, role types.Role) error {
	runID := m.CurrentRun()
	if runID == "" {
		return ErrNoActiveRun
	}
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO sessions (id, run_id, label, role, opened_at) VALUES (?, ?, ?, ?, ?)`,
			id, runID, label, string(role), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// EnqueueEvent queues ev for writing and returns immediately. A full queue
// drops the event and returns ErrQueueFull; it never blocks the caller,
// which holds a correlator lock.
func (m *Manager) EnqueueEvent(sessionID string, ev types.EventRecord) error {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed.Load() {
		return ErrClosed
	}

	payload := string(ev.Payload)
	if payload == "" {
		payload = "null"
	}
	op := writeOperation{operation: func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT OR IGNORE INTO events (session_id, seq, name, payload, received_at) VALUES (?, ?, ?, ?, ?)`,
			sessionID, ev.Seq, ev.Name, payload, ev.ReceivedAt.UTC())
		return err
	}}

	select {
	case m.writeChannel <- op:
		return nil
	default:
		m.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped counts events rejected because the queue was full
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

// Flush waits until every write queued before it has been applied
func (m *Manager) Flush() error {
	return m.executeWrite(func(*sql.DB) error { return nil })
}

// SessionEvents returns a session's archived events in arrival order
func (m *Manager) SessionEvents(ctx context.Context, sessionID string) ([]types.EventRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT seq, name, payload, received_at
		FROM events
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []types.EventRecord
	for rows.Next() {
		var (
			ev      types.EventRecord
			payload string
		)
		if err := rows.Scan(&ev.Seq, &ev.Name, &payload, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

// RunSessions lists the sessions archived under runID in open order
func (m *Manager) RunSessions(ctx context.Context, runID string) ([]SessionRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, run_id, label, role, opened_at
		FROM sessions
		WHERE run_id = ?
		ORDER BY opened_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SessionRecord
	for rows.Next() {
		var (
			s    SessionRecord
			role string
		)
		if err := rows.Scan(&s.ID, &s.RunID, &s.Label, &role, &s.OpenedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		s.Role = types.Role(role)
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetRun loads one run
func (m *Manager) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var (
		r        RunRecord
		finished sql.NullTime
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT id, name, base_url, started_at, finished_at, status FROM runs WHERE id = ?`, runID,
	).Scan(&r.ID, &r.Name, &r.BaseURL, &r.StartedAt, &finished, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// EventCounts tallies archived events by name across every session of runID
func (m *Manager) EventCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT e.name, COUNT(*)
		FROM events e
		JOIN sessions s ON s.id = e.session_id
		WHERE s.run_id = ?
		GROUP BY e.name
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// HealthCheck validates connectivity and the archive schema
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(m.db).ValidateTablesExist(); err != nil {
		return fmt.Errorf("archive schema check failed: %w", err)
	}
	return nil
}

// GetDB exposes the connection for schema validation in tests
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops accepting writes, drains the queue and closes the database.
// Safe to call repeatedly.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		// An event accepted under the read lock is already in the queue
		// when the writer starts draining.
		m.closeMu.Lock()
		m.closed.Store(true)
		close(m.shutdown)
		m.closeMu.Unlock()
		m.wg.Wait()

		if n := m.dropped.Load(); n > 0 {
			log.Printf("[Archive] %d events dropped on a full queue", n)
		}
		if cerr := m.db.Close(); cerr != nil {
			err = fmt.Errorf("failed to close database: %w", cerr)
		}
	})
	return err
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
