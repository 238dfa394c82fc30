// Package ledger provides the append-only water-usage ledger for pumpd.
package ledger

import (
	"database/sql"
	"fmt"
)

// Entry represents a single usage record in the ledger
type Entry struct {
	ID        int64   `json:"id"`
	Timestamp string  `json:"timestamp"`
	Liters    float64 `json:"liters"`
}

// Ledger provides append-only water usage logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Log appends a usage ledger entry
func (l *Ledger) Log(timestamp string, liters float64) error {
	_, err := l.db.Exec(`
		INSERT INTO water_usage (timestamp, liters) VALUES (?, ?)
	`, timestamp, liters)
	if err != nil {
		return fmt.Errorf("failed to append water usage: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first
func (l *Ledger) Recent(limit int) ([]Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, timestamp, liters
		FROM water_usage
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query water usage: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Since returns entries at or after the given timestamp string along with
// their total liters. Timestamps use the same lexicographically-sortable
// "2006-01-02 15:04:05" layout everywhere, so a string comparison suffices.
func (l *Ledger) Since(timestamp string) ([]Entry, float64, error) {
	rows, err := l.db.Query(`
		SELECT id, timestamp, liters
		FROM water_usage
		WHERE timestamp >= ?
		ORDER BY id DESC
	`, timestamp)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query water usage: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}

	var total float64
	for _, e := range entries {
		total += e.Liters
	}
	return entries, total, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Liters); err != nil {
			return nil, fmt.Errorf("failed to scan usage entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
