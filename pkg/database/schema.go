package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// SchemaValidator checks a database against the archive schema
// ARCHITECTURAL DISCOVERY: Kept apart from the migration manager so an
// archive file produced elsewhere can be verified before it is queried.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = map[string]string{
	"runs":              "scenario runs",
	"sessions":          "actor sessions per run",
	"events":            "recorded events per session",
	"schema_migrations": "migration tracking",
}

var requiredIndexes = map[string]string{
	"idx_runs_status":        "run status lookups",
	"idx_sessions_run":       "sessions of a run",
	"idx_events_session_seq": "ordered event history",
	"idx_events_name":        "event name counts",
}

// ValidateTablesExist verifies every required table exists
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range sortedKeys(requiredTables) {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, requiredTables[table], err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, requiredTables[table])
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types
func (v *SchemaValidator) ValidateTableStructure() error {
	expected := map[string]map[string]string{
		"runs": {
			"id":          "TEXT",
			"name":        "TEXT",
			"base_url":    "TEXT",
			"started_at":  "DATETIME",
			"finished_at": "DATETIME",
			"status":      "TEXT",
		},
		"sessions": {
			"id":        "TEXT",
			"run_id":    "TEXT",
			"label":     "TEXT",
			"role":      "TEXT",
			"opened_at": "DATETIME",
		},
		"events": {
			"id":          "INTEGER",
			"session_id":  "TEXT",
			"seq":         "INTEGER",
			"name":        "TEXT",
			"payload":     "TEXT",
			"received_at": "DATETIME",
		},
	}
	for _, table := range sortedKeys(expected) {
		if err := v.validateColumns(table, expected[table]); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies the query indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range sortedKeys(requiredIndexes) {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, requiredIndexes[index], err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, requiredIndexes[index])
		}
	}
	return nil
}

// ValidateConstraints verifies foreign keys and role checks are enforced.
// It writes probe rows inside a transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO sessions (id, run_id, label, role) VALUES ('probe', 'missing-run', 'probe', 'staff')`); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: sessions.run_id")
	}

	if _, err := tx.Exec(`INSERT INTO runs (id, name, base_url) VALUES ('probe-run', 'probe', 'http://probe')`); err != nil {
		return fmt.Errorf("failed to create probe run: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO sessions (id, run_id, label, role) VALUES ('probe', 'probe-run', 'probe', 'admin')`); err == nil {
		return fmt.Errorf("check constraint not enforced: sessions.role")
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(table string, want map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notNull, pk  int
			defaultValue any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = typ
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range sortedKeys(want) {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != want[col] {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, want[col])
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
