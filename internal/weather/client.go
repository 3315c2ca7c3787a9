// Package weather fetches station observations and rain forecasts from the
// AEMET OpenData API.
//
// Every AEMET call is two requests: the API answers with an envelope whose
// "datos" field points at the actual data, which is fetched next.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/xtxerr/telegate/config"
	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/logging"
	"github.com/xtxerr/telegate/internal/metrics"
	"github.com/xtxerr/telegate/internal/types"
)

var log = logging.Component("weather")

// Endpoint names, used as metric labels.
const (
	EndpointCurrent  = "current"
	EndpointForecast = "forecast"
)

const breakerName = "aemet"

// maxBody caps a response body read.
const maxBody = 8 << 20

// Config configures a Client.
type Config struct {
	BaseURL      string
	APIKey       string
	Station      string
	Municipality string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// BreakerFailures consecutive failures open the breaker for
	// BreakerOpenTimeout.
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	// Now is the clock used for fetch times. Defaults to time.Now.
	Now func() time.Time

	Metrics *metrics.Metrics
}

// Client talks to AEMET OpenData. Requests go through a circuit breaker so
// an outage costs one failed request per open period instead of one per
// poll.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a client. Zero config fields take the package defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = config.DefaultAEMETBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Station == "" {
		cfg.Station = config.DefaultAEMETStation
	}
	if cfg.Municipality == "" {
		cfg.Municipality = config.DefaultAEMETMunicipality
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultWeatherRequestTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = config.DefaultBreakerFailures
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = config.DefaultBreakerOpenTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	m := cfg.Metrics
	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			m.BreakerState(name, int(to))
		},
	})
	m.BreakerState(breakerName, int(gobreaker.StateClosed))

	return &Client{cfg: cfg, http: httpClient, breaker: breaker}
}

// envelope is the first-step AEMET response.
type envelope struct {
	Description string `json:"descripcion"`
	Status      int    `json:"estado"`
	Data        string `json:"datos"`
}

type observation struct {
	Interval       string   `json:"fint"`
	Precipitation  *float64 `json:"prec"`
	Humidity       *float64 `json:"hr"`
	Temperature    *float64 `json:"ta"`
	TemperatureMin *float64 `json:"tamin"`
	TemperatureMax *float64 `json:"tamax"`
}

type forecast struct {
	Prediction struct {
		Days []struct {
			Date        string `json:"fecha"`
			Probability []struct {
				Value  *int   `json:"value"`
				Period string `json:"periodo"`
			} `json:"probPrecipitacion"`
		} `json:"dia"`
	} `json:"prediccion"`
}

// Current returns the latest observation of the configured station.
// Fields the station did not report are zero.
func (c *Client) Current(ctx context.Context) (types.WeatherObservation, error) {
	path := "/observacion/convencional/datos/estacion/" + url.PathEscape(c.cfg.Station)

	var obs []observation
	if err := c.fetch(ctx, EndpointCurrent, path, &obs); err != nil {
		return types.WeatherObservation{}, err
	}
	if len(obs) == 0 {
		c.cfg.Metrics.WeatherError(EndpointCurrent)
		return types.WeatherObservation{}, fmt.Errorf("station %s returned no observations: %w",
			c.cfg.Station, errors.ErrWeatherUnavailable)
	}

	o := latest(obs)
	return types.WeatherObservation{
		ObservedAt:     c.cfg.Now().Unix(),
		Station:        c.cfg.Station,
		Precipitation:  value(o.Precipitation),
		Humidity:       value(o.Humidity),
		Temperature:    value(o.Temperature),
		TemperatureMin: value(o.TemperatureMin),
		TemperatureMax: value(o.TemperatureMax),
	}, nil
}

// latest returns the observation with the newest fint. The station feed
// lists the last day of hourly readings oldest first, but the order is not
// documented. fint is a fixed-width ISO timestamp, so it sorts lexically.
// Ties go to the later entry.
func latest(obs []observation) observation {
	best := obs[0]
	for _, o := range obs[1:] {
		if o.Interval >= best.Interval {
			best = o
		}
	}
	return best
}

// RainForecast returns the daily precipitation probability for the
// configured municipality. DayOffset counts days from now's UTC date; the
// probability of a day is the highest of its periods.
func (c *Client) RainForecast(ctx context.Context, now time.Time) ([]types.RainForecast, error) {
	path := "/prediccion/especifica/municipio/diaria/" + url.PathEscape(c.cfg.Municipality)

	var fc []forecast
	if err := c.fetch(ctx, EndpointForecast, path, &fc); err != nil {
		return nil, err
	}
	if len(fc) == 0 {
		c.cfg.Metrics.WeatherError(EndpointForecast)
		return nil, fmt.Errorf("municipality %s returned no forecast: %w",
			c.cfg.Municipality, errors.ErrWeatherUnavailable)
	}

	today := now.UTC().Truncate(24 * time.Hour)
	fetchedAt := c.cfg.Now().Unix()

	var out []types.RainForecast
	for _, day := range fc[0].Prediction.Days {
		if len(day.Date) < 10 {
			log.Debug("forecast day without date skipped", "fecha", day.Date)
			continue
		}
		date, err := time.Parse(time.DateOnly, day.Date[:10])
		if err != nil {
			log.Debug("forecast day with bad date skipped", "fecha", day.Date, "error", err)
			continue
		}

		prob, ok := 0, false
		for _, p := range day.Probability {
			if p.Value != nil && (!ok || *p.Value > prob) {
				prob, ok = *p.Value, true
			}
		}
		if !ok {
			continue
		}

		out = append(out, types.RainForecast{
			FetchedAt:    fetchedAt,
			Municipality: c.cfg.Municipality,
			DayOffset:    int(date.Sub(today).Hours() / 24),
			Date:         date.Format(time.DateOnly),
			Probability:  prob,
		})
	}
	return out, nil
}

// fetch performs the two-step AEMET request and decodes the data into v.
func (c *Client) fetch(ctx context.Context, endpoint, path string, v any) error {
	err := c.fetchInto(ctx, path, v)
	if err != nil {
		c.cfg.Metrics.WeatherError(endpoint)
	}
	return err
}

func (c *Client) fetchInto(ctx context.Context, path string, v any) error {
	body, err := c.get(ctx, c.cfg.BaseURL+path, true)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode envelope %s: %v: %w", path, err, errors.ErrWeatherUnavailable)
	}
	if env.Status != http.StatusOK || env.Data == "" {
		return fmt.Errorf("%s: estado %d (%s): %w", path, env.Status, env.Description, errors.ErrWeatherUnavailable)
	}

	data, err := c.get(ctx, env.Data, false)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode data %s: %v: %w", path, err, errors.ErrWeatherUnavailable)
	}
	return nil
}

// get issues one GET through the circuit breaker. 5xx answers and bodies
// that are not JSON count as failures.
func (c *Client) get(ctx context.Context, rawURL string, withKey bool) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Accept", "application/json")
		if withKey {
			q := req.URL.Query()
			q.Set("api_key", c.cfg.APIKey)
			req.URL.RawQuery = q.Encode()
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// *url.Error repeats the URL, api_key included.
			var uerr *url.Error
			if errors.As(err, &uerr) {
				return nil, uerr.Err
			}
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("server error %d", resp.StatusCode)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("status %d: body is not JSON", resp.StatusCode)
		}
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("GET %s: %v: %w", redact(rawURL), err, errors.ErrWeatherUnavailable)
	}
	return body, nil
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// redact strips the query string so API keys stay out of logs.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
