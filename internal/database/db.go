package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is recorded in the meta table. Loaders refuse stores
// whose major version they do not understand.
const SchemaVersion = "2.0"

// DB wraps the SQLite store shared by the fingerprint cache and the
// session tables. WAL mode keeps readers off the writer's path;
// synchronous=NORMAL trades the last batch on crash for throughput.
type DB struct {
	conn *sql.DB
}

// DBConfig holds database connection configuration
type DBConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	return NewWithConfig(dbPath, DBConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
}

// NewWithConfig creates a new database connection with custom pool settings
func NewWithConfig(dbPath string, cfg DBConfig) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Any session still marked running belongs to a previous process; no
	// scan can be running while we are starting up. Demote them to paused
	// so they stay resumable.
	if _, err := db.PauseStaleSessions(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to pause stale sessions: %w", err)
	}

	return db, nil
}

// initSchema creates all tables and verifies the stored schema version
func (db *DB) initSchema() error {
	if _, err := db.conn.Exec(GetSchema()); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var stored string
	err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.conn.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`, SchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	default:
		if majorVersion(stored) != majorVersion(SchemaVersion) {
			return fmt.Errorf("unsupported schema version %s (expected major %s)", stored, majorVersion(SchemaVersion))
		}
	}

	return nil
}

// majorVersion returns the leading component of a dotted version string
func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}

// PauseStaleSessions demotes sessions left in the running state by a
// previous process instance. Returns the number of sessions touched.
func (db *DB) PauseStaleSessions() (int64, error) {
	res, err := db.conn.Exec(
		`UPDATE scan_sessions SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPaused, time.Now().Unix(), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to pause stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// CloseAll flushes SQLite's connection pool and releases every handle.
// Deterministic shutdown point for all per-worker connections.
func (db *DB) CloseAll() error {
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database handles: %w", err)
	}
	return nil
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// BeginTx starts a new transaction
func (db *DB) BeginTx() (*sql.Tx, error) {
	return db.conn.Begin()
}

// Ping checks if the database connection is alive
func (db *DB) Ping() error {
	return db.conn.Ping()
}
