// Package db provides a centralized database connection and schema for pumpd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Persisted configuration - plain key-value, last writer wins
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create settings table: %w", err)
	}

	// Historical sensor log - append-only, one row per ingested reading
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sensor_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			soil_moisture REAL,
			temperature REAL,
			humidity REAL,
			pump_status TEXT NOT NULL,
			source TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sensor_log_ts ON sensor_log(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create sensor_log table: %w", err)
	}

	// Water usage ledger - append-only, one row per pump cycle
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS water_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			liters REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_water_usage_ts ON water_usage(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create water_usage table: %w", err)
	}

	// Notification log - append-only human-readable events
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			message TEXT NOT NULL,
			level TEXT NOT NULL,
			acked INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_ts ON notifications(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create notifications table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
