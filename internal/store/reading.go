package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtxerr/telegate/config"
	"github.com/xtxerr/telegate/internal/types"
)

const insertReadingSQL = `INSERT INTO readings
	(device_id, temperature, humidity, rain_pulses, "timestamp", anomalous)
	VALUES (?, ?, ?, ?, ?, ?)`

// InsertReading appends one reading row. Existing rows are never touched.
//
// It blocks until the row is written or ctx ends, retrying every
// InsertRetryDelay. The only error is the context's (or ErrStoreClosed).
func (s *Store) InsertReading(ctx context.Context, rec types.Record) error {
	return s.withRetry(ctx, "insert_reading", s.config.InsertRetryDelay, insertReading(rec))
}

// TryInsertReading makes a single insert attempt.
// ok is false when the caller should not assume the row is stored.
func (s *Store) TryInsertReading(ctx context.Context, rec types.Record) (bool, error) {
	if err := s.attempt(ctx, insertReading(rec)); err != nil {
		return false, err
	}
	return true, nil
}

func insertReading(rec types.Record) func(ctx context.Context, db *sql.DB) error {
	return func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, insertReadingSQL,
			rec.DeviceID,
			rec.Features.Temperature(),
			rec.Features.Humidity(),
			rec.Features.RainPulses(),
			rec.Timestamp,
			rec.Anomalous,
		)
		if err != nil {
			return fmt.Errorf("insert reading %s@%d: %w", rec.DeviceID, rec.Timestamp, err)
		}
		return nil
	}
}

// ReadingQuery selects stored readings.
type ReadingQuery struct {
	DeviceID string // empty for all devices
	Since    int64  // unix seconds, inclusive
	Until    int64  // unix seconds, exclusive; 0 for no bound
	Limit    int    // 0 for the default limit, negative for no limit
}

// Readings returns stored readings, newest first.
func (s *Store) Readings(ctx context.Context, q ReadingQuery) ([]types.StoredReading, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	query := `SELECT device_id, temperature, humidity, rain_pulses, "timestamp", anomalous
		FROM readings WHERE "timestamp" >= ?`
	args := []interface{}{q.Since}

	if q.DeviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, q.DeviceID)
	}
	if q.Until > 0 {
		query += ` AND "timestamp" < ?`
		args = append(args, q.Until)
	}
	query += ` ORDER BY "timestamp" DESC, device_id`

	limit := q.Limit
	if limit == 0 {
		limit = config.DefaultReadingsQueryLimit
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var readings []types.StoredReading
	for rows.Next() {
		var r types.StoredReading
		var temp, hum, rain sql.NullFloat64
		if err := rows.Scan(&r.DeviceID, &temp, &hum, &rain, &r.Timestamp, &r.Anomalous); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Temperature = temp.Float64
		r.Humidity = hum.Float64
		r.RainPulses = rain.Float64
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// CountReadings returns the number of stored readings for a device, or for
// all devices when deviceID is empty.
func (s *Store) CountReadings(ctx context.Context, deviceID string) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	var n int
	if deviceID == "" {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n)
	} else {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings WHERE device_id = ?`, deviceID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}
