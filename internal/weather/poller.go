package weather

import (
	"context"
	"time"

	"github.com/xtxerr/telegate/config"
	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/types"
)

// Fetcher is the part of *Client the poller uses.
type Fetcher interface {
	Current(ctx context.Context) (types.WeatherObservation, error)
	RainForecast(ctx context.Context, now time.Time) ([]types.RainForecast, error)
}

// Store persists weather data. *store.Store satisfies it with single-attempt
// writes; a failed write waits for the next poll.
type Store interface {
	InsertObservation(ctx context.Context, obs types.WeatherObservation) error
	InsertForecasts(ctx context.Context, forecasts []types.RainForecast) error
}

// Poller fetches weather data on an interval and stores it. It runs beside
// the ingest pipeline and never touches the sample buffer.
type Poller struct {
	fetcher  Fetcher
	store    Store
	interval time.Duration
	now      func() time.Time
}

// NewPoller creates a poller. interval <= 0 uses the default of one hour.
func NewPoller(f Fetcher, s Store, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = config.DefaultWeatherPollInterval
	}
	return &Poller{fetcher: f, store: s, interval: interval, now: time.Now}
}

// Run polls once immediately and then every interval until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	log.Info("weather poller started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Warn("weather poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			log.Info("weather poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches and stores the current observation and the rain forecast.
// A failure in one does not skip the other; both errors are returned.
func (p *Poller) Poll(ctx context.Context) error {
	var errs []error

	obs, err := p.fetcher.Current(ctx)
	if err == nil {
		err = p.store.InsertObservation(ctx, obs)
	}
	if err != nil {
		errs = append(errs, errors.Wrap(err, "current weather"))
	} else {
		log.Debug("observation stored",
			"station", obs.Station,
			"temperature", obs.Temperature,
			"humidity", obs.Humidity,
			"precipitation", obs.Precipitation)
	}

	forecasts, err := p.fetcher.RainForecast(ctx, p.now())
	if err == nil {
		err = p.store.InsertForecasts(ctx, forecasts)
	}
	if err != nil {
		errs = append(errs, errors.Wrap(err, "rain forecast"))
	} else {
		log.Debug("forecasts stored", "days", len(forecasts))
	}

	return errors.Join(errs...)
}
