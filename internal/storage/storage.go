package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is the PRAGMA user_version the migrations bring a database to.
const SchemaVersion = 2

// DB wraps the SQLite connection holding history, the vault index, the
// profile, session state and turn metrics.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path with WAL
// journaling and runs pending migrations.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=10000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time
	conn.SetMaxOpenConns(1)

	var walMode string
	if err := conn.QueryRow("PRAGMA journal_mode=WAL").Scan(&walMode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if walMode != "wal" {
		conn.Close()
		return nil, fmt.Errorf("failed to set WAL mode: got %s", walMode)
	}

	db := &DB{conn: conn, path: dbPath}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

// migrate applies schema versions above the stored user_version in order.
func (db *DB) migrate() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, SchemaVersion)
	}

	for version < SchemaVersion {
		version++
		switch version {
		case 1:
			err = applySchemaV1(tx)
		case 2:
			err = applySchemaV2(tx)
		default:
			return fmt.Errorf("unknown schema version: %d", version)
		}
		if err != nil {
			return fmt.Errorf("failed to apply schema v%d: %w", version, err)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// applySchemaV1 creates the conversation, vault and key/value tables.
func applySchemaV1(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_calls TEXT,
			tool_call_id TEXT,
			intent TEXT,
			ts INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS vault_items (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			filename TEXT NOT NULL,
			score REAL NOT NULL DEFAULT 0,
			hidden INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			data TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_vault_items_position ON vault_items(position);

		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	return err
}

// applySchemaV2 adds per-turn metrics.
func applySchemaV2(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS turn_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token INTEGER NOT NULL,
			route TEXT NOT NULL,
			model TEXT NOT NULL,
			tool_rounds INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turn_metrics_finished ON turn_metrics(finished_at);
	`)
	return err
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Ping verifies database connectivity
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// Version returns the schema version recorded in the database.
func (db *DB) Version() (int, error) {
	var v int
	err := db.conn.QueryRow("PRAGMA user_version").Scan(&v)
	return v, err
}

// IntegrityCheck runs SQLite's integrity check and returns its verdict.
func (db *DB) IntegrityCheck(ctx context.Context) (string, error) {
	var result string
	err := db.conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result)
	return result, err
}
