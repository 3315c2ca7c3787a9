package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/types"
)

const upsertDeviceSQL = `INSERT INTO devices (device_id, registered_at) VALUES (?, ?)
	ON CONFLICT (device_id) DO NOTHING`

// UpsertDevice registers a device. Registering a known device is a no-op.
//
// It blocks until the row exists or ctx ends, retrying every
// RegisterRetryDelay. The only error is the context's.
func (s *Store) UpsertDevice(ctx context.Context, deviceID string) error {
	return s.withRetry(ctx, "upsert_device", s.config.RegisterRetryDelay, upsertDevice(deviceID))
}

// TryUpsertDevice makes a single registration attempt.
// ok is false when the caller should not assume the device is stored.
func (s *Store) TryUpsertDevice(ctx context.Context, deviceID string) (bool, error) {
	if err := s.attempt(ctx, upsertDevice(deviceID)); err != nil {
		return false, err
	}
	return true, nil
}

func upsertDevice(deviceID string) func(ctx context.Context, db *sql.DB) error {
	now := time.Now().UTC()
	return func(ctx context.Context, db *sql.DB) error {
		if _, err := db.ExecContext(ctx, upsertDeviceSQL, deviceID, now); err != nil {
			return fmt.Errorf("upsert device %s: %w", deviceID, err)
		}
		return nil
	}
}

// ListDevices returns every registered device ordered by ID.
func (s *Store) ListDevices(ctx context.Context) ([]types.Device, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT device_id, registered_at FROM devices ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		var d types.Device
		if err := rows.Scan(&d.DeviceID, &d.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetDevice returns one registered device.
func (s *Store) GetDevice(ctx context.Context, deviceID string) (*types.Device, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var d types.Device
	err = db.QueryRowContext(ctx,
		`SELECT device_id, registered_at FROM devices WHERE device_id = ?`, deviceID,
	).Scan(&d.DeviceID, &d.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("device", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &d, nil
}

// CountDevices returns the number of registered devices.
func (s *Store) CountDevices(ctx context.Context) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count devices: %w", err)
	}
	return n, nil
}
