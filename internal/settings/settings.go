// Package settings is the persisted key-value configuration store.
package settings

import (
	"database/sql"
	"fmt"
	"time"
)

// Store provides best-effort persisted configuration backed by SQLite.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves a setting value. A missing key returns "" with no error;
// callers substitute their own defaults.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, nil
}

// Set stores a setting value, replacing any prior value.
func (s *Store) Set(key, value string) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}
