package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.DatabasePath != "./data/callprobe.db" {
		t.Errorf("Expected DatabasePath './data/callprobe.db', got %s", config.DatabasePath)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("DefaultConfig should validate: %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"zero queue", func(c *Config) { c.WriteQueueSize = 0 }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestMigrationManager_EmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)
	mgr := NewMigrationManager(db)

	if err := mgr.ValidateSchema(); err == nil {
		t.Error("ValidateSchema should fail on empty database")
	}
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	if err := mgr.ValidateSchema(); err != nil {
		t.Errorf("ValidateSchema() after migrations = %v", err)
	}

	// Re-applying is a no-op
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("second ApplyMigrations() error = %v", err)
	}
	versions, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if len(versions) != 1 || versions[0] != "001" {
		t.Errorf("applied versions = %v, want [001]", versions)
	}
}

func TestMigrationManager_OrdersByVersion(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"m/002_second.sql": {Data: []byte(`ALTER TABLE first ADD COLUMN extra TEXT;`)},
		"m/001_first.sql":  {Data: []byte(`CREATE TABLE first (id TEXT PRIMARY KEY);`)},
		"m/README.md":      {Data: []byte("not a migration")},
	}
	mgr := NewMigrationManagerFS(db, fsys, "m")

	migrations, err := mgr.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 || migrations[0].Version != "001" || migrations[1].Description != "second" {
		t.Fatalf("migrations = %+v", migrations)
	}
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	if _, err := db.Exec(`INSERT INTO first (id, extra) VALUES ('a', 'b')`); err != nil {
		t.Errorf("migrated table unusable: %v", err)
	}
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"m/001_broken.sql": {Data: []byte(`CREATE TABLE ok (id TEXT); THIS IS NOT SQL;`)},
	}
	mgr := NewMigrationManagerFS(db, fsys, "m")
	if err := mgr.ApplyMigrations(); err == nil {
		t.Fatal("ApplyMigrations() should fail")
	}
	versions, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("failed migration recorded: %v", versions)
	}
}
