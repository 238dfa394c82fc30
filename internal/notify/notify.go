// Package notify is the append-only notification log.
package notify

import (
	"database/sql"
	"fmt"
	"time"
)

// Entry represents a single notification
type Entry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Level     string `json:"level"`
	Acked     bool   `json:"acked"`
}

// Log provides append-only notification logging
type Log struct {
	db *sql.DB
}

// New creates a new Log using the provided database connection
func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Append adds a notification. An empty timestamp means "now".
func (l *Log) Append(message, level, timestamp string) error {
	if timestamp == "" {
		timestamp = time.Now().UTC().Format("2006-01-02 15:04:05")
	}
	_, err := l.db.Exec(`
		INSERT INTO notifications (timestamp, message, level) VALUES (?, ?, ?)
	`, timestamp, message, level)
	if err != nil {
		return fmt.Errorf("failed to append notification: %w", err)
	}
	return nil
}

// Log satisfies the notifier collaborator contract.
func (l *Log) Log(message, level, timestamp string) error {
	return l.Append(message, level, timestamp)
}

// Recent returns up to limit notifications, newest first
func (l *Log) Recent(limit int) ([]Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, timestamp, message, level, acked
		FROM notifications
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var acked int
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Message, &e.Level, &acked); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		e.Acked = acked != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ack marks a notification as acknowledged. Returns true if it existed.
func (l *Log) Ack(id int64) (bool, error) {
	result, err := l.db.Exec(`UPDATE notifications SET acked = 1 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to ack notification: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}
