package store

import (
	"context"
	"database/sql"
	"fmt"
)

// =============================================================================
// Schema Migration
// =============================================================================

// migrations run on every open. Each statement is idempotent.
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "devices",
		sql: `CREATE TABLE IF NOT EXISTS devices (
			device_id     VARCHAR PRIMARY KEY,
			registered_at TIMESTAMP NOT NULL
		)`,
	},
	{
		name: "readings",
		sql: `CREATE TABLE IF NOT EXISTS readings (
			device_id   VARCHAR NOT NULL,
			temperature DOUBLE,
			humidity    DOUBLE,
			rain_pulses DOUBLE,
			"timestamp" BIGINT NOT NULL,
			anomalous   BOOLEAN NOT NULL DEFAULT false
		)`,
	},
	{
		name: "readings_device_ts",
		sql:  `CREATE INDEX IF NOT EXISTS idx_readings_device_ts ON readings (device_id, "timestamp")`,
	},
	{
		name: "weather_observations",
		sql: `CREATE TABLE IF NOT EXISTS weather_observations (
			observed_at     BIGINT NOT NULL,
			station         VARCHAR NOT NULL,
			precipitation   DOUBLE,
			humidity        DOUBLE,
			temperature     DOUBLE,
			temperature_min DOUBLE,
			temperature_max DOUBLE
		)`,
	},
	{
		name: "rain_forecasts",
		sql: `CREATE TABLE IF NOT EXISTS rain_forecasts (
			fetched_at    BIGINT NOT NULL,
			municipality  VARCHAR NOT NULL,
			day_offset    INTEGER NOT NULL,
			forecast_date VARCHAR NOT NULL,
			probability   INTEGER NOT NULL
		)`,
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migrate %s: %w", m.name, err)
		}
	}
	return nil
}
