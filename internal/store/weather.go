package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtxerr/telegate/internal/types"
)

// InsertObservation stores one weather observation in a single attempt.
// Weather data is refetched every cycle, so there is no retry loop.
func (s *Store) InsertObservation(ctx context.Context, obs types.WeatherObservation) error {
	return s.attempt(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `INSERT INTO weather_observations
			(observed_at, station, precipitation, humidity, temperature, temperature_min, temperature_max)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			obs.ObservedAt, obs.Station, obs.Precipitation, obs.Humidity,
			obs.Temperature, obs.TemperatureMin, obs.TemperatureMax)
		if err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
		return nil
	})
}

// InsertForecasts stores one fetch worth of rain forecasts in a transaction.
func (s *Store) InsertForecasts(ctx context.Context, forecasts []types.RainForecast) error {
	if len(forecasts) == 0 {
		return nil
	}

	return s.attempt(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO rain_forecasts
			(fetched_at, municipality, day_offset, forecast_date, probability)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("prepare forecast insert: %w", err)
		}
		defer stmt.Close()

		for _, f := range forecasts {
			if _, err := stmt.ExecContext(ctx, f.FetchedAt, f.Municipality, f.DayOffset, f.Date, f.Probability); err != nil {
				tx.Rollback()
				return fmt.Errorf("insert forecast %s: %w", f.Date, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// LatestObservation returns the most recent weather observation.
func (s *Store) LatestObservation(ctx context.Context) (*types.WeatherObservation, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var obs types.WeatherObservation
	err = db.QueryRowContext(ctx, `SELECT observed_at, station, precipitation, humidity,
		temperature, temperature_min, temperature_max
		FROM weather_observations ORDER BY observed_at DESC LIMIT 1`,
	).Scan(&obs.ObservedAt, &obs.Station, &obs.Precipitation, &obs.Humidity,
		&obs.Temperature, &obs.TemperatureMin, &obs.TemperatureMax)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest observation: %w", err)
	}
	return &obs, nil
}

// LatestForecasts returns the forecasts of the most recent fetch, ordered by day.
func (s *Store) LatestForecasts(ctx context.Context) ([]types.RainForecast, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT fetched_at, municipality, day_offset, forecast_date, probability
		FROM rain_forecasts
		WHERE fetched_at = (SELECT MAX(fetched_at) FROM rain_forecasts)
		ORDER BY day_offset`)
	if err != nil {
		return nil, fmt.Errorf("query forecasts: %w", err)
	}
	defer rows.Close()

	var out []types.RainForecast
	for rows.Next() {
		var f types.RainForecast
		if err := rows.Scan(&f.FetchedAt, &f.Municipality, &f.DayOffset, &f.Date, &f.Probability); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
