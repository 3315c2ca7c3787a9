package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/types"
)

const observationData = `[
  {"idema":"8523X","fint":"2024-05-01T08:00:00","prec":0.2,"hr":80,"ta":16.1,"tamin":13.9,"tamax":16.4},
  {"idema":"8523X","fint":"2024-05-01T10:00:00","prec":0.4,"hr":71,"ta":18.2,"tamin":15.1,"tamax":19.0},
  {"idema":"8523X","fint":"2024-05-01T09:00:00","prec":0.0,"hr":75,"ta":17.0,"tamin":14.0,"tamax":17.5}
]`

const forecastData = `[{
  "nombre":"Castelló de la Plana",
  "prediccion":{"dia":[
    {"fecha":"2024-05-01T00:00:00","probPrecipitacion":[{"value":10,"periodo":"00-24"},{"value":40,"periodo":"12-18"},{"value":5,"periodo":"18-24"}]},
    {"fecha":"2024-05-02T00:00:00","probPrecipitacion":[{"value":0,"periodo":"00-24"}]},
    {"fecha":"2024-05-03T00:00:00","probPrecipitacion":[{"value":85}]},
    {"fecha":"bad","probPrecipitacion":[{"value":85}]},
    {"fecha":"2024-05-04T00:00:00","probPrecipitacion":[]}
  ]}
}]`

// fakeAEMET serves the two-step AEMET protocol.
type fakeAEMET struct {
	*httptest.Server

	failures atomic.Int32 // remaining 503 answers
	requests atomic.Int32
	lastKey  atomic.Value
}

func newFakeAEMET(t *testing.T) *fakeAEMET {
	t.Helper()

	f := &fakeAEMET{}
	mux := http.NewServeMux()

	envelope := func(w http.ResponseWriter, r *http.Request, dataPath string) {
		f.lastKey.Store(r.URL.Query().Get("api_key"))
		if r.URL.Query().Get("api_key") != "test-key" {
			fmt.Fprint(w, `{"descripcion":"API key invalido","estado":401}`)
			return
		}
		fmt.Fprintf(w, `{"descripcion":"exito","estado":200,"datos":"%s%s"}`, f.URL, dataPath)
	}

	mux.HandleFunc("/api/observacion/convencional/datos/estacion/8523X", func(w http.ResponseWriter, r *http.Request) {
		envelope(w, r, "/data/obs")
	})
	mux.HandleFunc("/api/prediccion/especifica/municipio/diaria/12027", func(w http.ResponseWriter, r *http.Request) {
		envelope(w, r, "/data/forecast")
	})
	mux.HandleFunc("/api/maintenance", func(w http.ResponseWriter, r *http.Request) {
		envelope(w, r, "/data/html")
	})
	mux.HandleFunc("/data/obs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, observationData)
	})
	mux.HandleFunc("/data/forecast", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, forecastData)
	})
	mux.HandleFunc("/data/html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>maintenance</html>")
	})

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if f.failures.Load() > 0 {
			f.failures.Add(-1)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestClient(f *fakeAEMET, key string) *Client {
	return NewClient(Config{
		BaseURL:            f.URL + "/api",
		APIKey:             key,
		BreakerFailures:    2,
		BreakerOpenTimeout: time.Hour,
		Now:                func() time.Time { return time.Unix(1_714_557_600, 0) },
	})
}

func TestClient_Current(t *testing.T) {
	f := newFakeAEMET(t)
	c := newTestClient(f, "test-key")

	obs, err := c.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.WeatherObservation{
		ObservedAt:     1_714_557_600,
		Station:        "8523X",
		Precipitation:  0.4,
		Humidity:       71,
		Temperature:    18.2,
		TemperatureMin: 15.1,
		TemperatureMax: 19.0,
	}, obs)
	require.Equal(t, "test-key", f.lastKey.Load())
}

func TestLatest(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		obs  []observation
		want float64
	}{
		{"single", []observation{{Interval: "2024-05-01T09:00:00", Temperature: f(1)}}, 1},
		{"oldest first", []observation{
			{Interval: "2024-05-01T08:00:00", Temperature: f(1)},
			{Interval: "2024-05-01T09:00:00", Temperature: f(2)},
		}, 2},
		{"newest first", []observation{
			{Interval: "2024-05-01T09:00:00", Temperature: f(2)},
			{Interval: "2024-05-01T08:00:00", Temperature: f(1)},
		}, 2},
		{"across midnight", []observation{
			{Interval: "2024-04-30T23:00:00", Temperature: f(1)},
			{Interval: "2024-05-01T00:00:00", Temperature: f(2)},
			{Interval: "2024-04-30T22:00:00", Temperature: f(3)},
		}, 2},
		{"no timestamps", []observation{{Temperature: f(1)}, {Temperature: f(2)}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, *latest(tt.obs).Temperature)
		})
	}
}

func TestClient_RainForecast(t *testing.T) {
	f := newFakeAEMET(t)
	c := newTestClient(f, "test-key")

	now := time.Date(2024, 5, 1, 17, 30, 0, 0, time.UTC)
	fc, err := c.RainForecast(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, fc, 3)
	require.Equal(t, 0, fc[0].DayOffset)
	require.Equal(t, "2024-05-01", fc[0].Date)
	require.Equal(t, 40, fc[0].Probability)
	require.Equal(t, 1, fc[1].DayOffset)
	require.Equal(t, 0, fc[1].Probability)
	require.Equal(t, 2, fc[2].DayOffset)
	require.Equal(t, 85, fc[2].Probability)
	for _, r := range fc {
		require.Equal(t, "12027", r.Municipality)
		require.Equal(t, int64(1_714_557_600), r.FetchedAt)
	}
}

func TestClient_BadKey(t *testing.T) {
	f := newFakeAEMET(t)
	c := newTestClient(f, "wrong")

	_, err := c.Current(context.Background())
	require.ErrorIs(t, err, errors.ErrWeatherUnavailable)
	require.Contains(t, err.Error(), "estado 401")
}

func TestClient_NonJSONBodyFails(t *testing.T) {
	f := newFakeAEMET(t)
	c := newTestClient(f, "test-key")

	var v any
	err := c.fetchInto(context.Background(), "/maintenance", &v)
	require.ErrorIs(t, err, errors.ErrWeatherUnavailable)
	require.Contains(t, err.Error(), "not JSON")
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	f := newFakeAEMET(t)
	f.failures.Store(100)
	c := newTestClient(f, "test-key")

	for i := 0; i < 2; i++ {
		_, err := c.Current(context.Background())
		require.ErrorIs(t, err, errors.ErrWeatherUnavailable)
	}
	require.Equal(t, gobreaker.StateOpen, c.BreakerState())

	before := f.requests.Load()
	_, err := c.Current(context.Background())
	require.ErrorIs(t, err, errors.ErrWeatherUnavailable)
	require.ErrorContains(t, err, gobreaker.ErrOpenState.Error())
	require.Equal(t, before, f.requests.Load(), "open breaker must not reach the server")
}

func TestClient_KeyNotLogged(t *testing.T) {
	c := NewClient(Config{
		BaseURL: "http://127.0.0.1:1/api",
		APIKey:  "super-secret",
		Timeout: time.Second,
	})

	_, err := c.Current(context.Background())
	require.Error(t, err)
	require.NotContains(t, err.Error(), "super-secret")
}

// fakeFetcher and memStore drive the poller without HTTP.
type fakeFetcher struct {
	obsErr, fcErr error
}

func (f *fakeFetcher) Current(context.Context) (types.WeatherObservation, error) {
	if f.obsErr != nil {
		return types.WeatherObservation{}, f.obsErr
	}
	return types.WeatherObservation{Station: "8523X", Temperature: 20}, nil
}

func (f *fakeFetcher) RainForecast(_ context.Context, now time.Time) ([]types.RainForecast, error) {
	if f.fcErr != nil {
		return nil, f.fcErr
	}
	return []types.RainForecast{{FetchedAt: now.Unix(), DayOffset: 0, Probability: 30}}, nil
}

type memStore struct {
	mu        sync.Mutex
	obs       []types.WeatherObservation
	forecasts [][]types.RainForecast
}

func (s *memStore) InsertObservation(_ context.Context, obs types.WeatherObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append(s.obs, obs)
	return nil
}

func (s *memStore) InsertForecasts(_ context.Context, fc []types.RainForecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecasts = append(s.forecasts, fc)
	return nil
}

func (s *memStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.obs), len(s.forecasts)
}

func TestPoller_Poll(t *testing.T) {
	st := &memStore{}
	p := NewPoller(&fakeFetcher{}, st, time.Hour)

	require.NoError(t, p.Poll(context.Background()))
	obs, fc := st.counts()
	require.Equal(t, 1, obs)
	require.Equal(t, 1, fc)
}

func TestPoller_PartialFailure(t *testing.T) {
	st := &memStore{}
	p := NewPoller(&fakeFetcher{obsErr: errors.ErrWeatherUnavailable}, st, time.Hour)

	err := p.Poll(context.Background())
	require.ErrorIs(t, err, errors.ErrWeatherUnavailable)
	require.Contains(t, err.Error(), "current weather")

	obs, fc := st.counts()
	require.Equal(t, 0, obs)
	require.Equal(t, 1, fc, "forecast still stored when the observation fails")
}

func TestPoller_RunPollsImmediatelyAndOnInterval(t *testing.T) {
	st := &memStore{}
	p := NewPoller(&fakeFetcher{}, st, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		obs, _ := st.counts()
		return obs >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
