package database

import (
	"errors"
	"time"
)

// Config holds archive database settings
// ARCHITECTURAL DISCOVERY: The archive is a single SQLite file. Reads may
// run concurrently; writes are serialized by the manager's writer goroutine.
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	WriteQueueSize  int           `json:"write_queue_size"`
	WriteTimeout    time.Duration `json:"write_timeout"`
}

// DefaultConfig returns settings for a local archive file
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/callprobe.db",
		MaxConnections:  4,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		WriteQueueSize:  1024,
		WriteTimeout:    30 * time.Second,
	}
}

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteQueueSize <= 0 {
		return errors.New("write queue size must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	return nil
}

// DSN builds the go-sqlite3 connection string. Pragmas given here apply to
// every pooled connection, which matters for foreign_keys.
func (c *Config) DSN() string {
	return "file:" + c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_synchronous=NORMAL"
}
