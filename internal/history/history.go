// Package history is the append-only historical sensor log.
package history

import (
	"database/sql"
	"fmt"

	"github.com/soilbridge/pumpd/internal/pump"
)

// Log stores normalized telemetry readings for later inspection.
type Log struct {
	db *sql.DB
}

// New creates a Log using the provided database connection.
func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Insert appends a fully-derived reading.
func (l *Log) Insert(r pump.Reading) error {
	_, err := l.db.Exec(`
		INSERT INTO sensor_log (timestamp, soil_moisture, temperature, humidity, pump_status, source)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Timestamp, nullable(r.SoilMoisture), nullable(r.Temperature), nullable(r.Humidity), string(r.PumpStatus), r.Source)
	if err != nil {
		return fmt.Errorf("failed to insert sensor reading: %w", err)
	}
	return nil
}

// Recent returns up to limit readings, newest first.
func (l *Log) Recent(limit int) ([]pump.Reading, error) {
	rows, err := l.db.Query(`
		SELECT timestamp, soil_moisture, temperature, humidity, pump_status, source
		FROM sensor_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor log: %w", err)
	}
	defer rows.Close()

	var readings []pump.Reading
	for rows.Next() {
		var r pump.Reading
		var soil, temp, hum sql.NullFloat64
		var status string
		if err := rows.Scan(&r.Timestamp, &soil, &temp, &hum, &status, &r.Source); err != nil {
			return nil, fmt.Errorf("failed to scan sensor reading: %w", err)
		}
		r.SoilMoisture = fromNull(soil)
		r.Temperature = fromNull(temp)
		r.Humidity = fromNull(hum)
		r.PumpStatus = pump.Action(status)
		readings = append(readings, r)
	}

	return readings, rows.Err()
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
