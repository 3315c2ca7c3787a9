package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xtxerr/telegate/internal/flush"
	"github.com/xtxerr/telegate/internal/metrics"
	"github.com/xtxerr/telegate/internal/store"
	"github.com/xtxerr/telegate/internal/types"
)

type stubScheduler struct{}

func (stubScheduler) State() flush.State { return flush.StateIdle }
func (stubScheduler) Pending() int       { return 2 }

type stubSource bool

func (s stubSource) Ready() bool { return bool(s) }

func setupTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	cfg := store.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "api.db")
	st, err := store.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := New(&Config{
		Store:     st,
		Scheduler: stubScheduler{},
		Sources:   map[string]Source{"mqtt": stubSource(true), "kafka": stubSource(false)},
		Metrics:   metrics.New(),
	})
	return srv, st
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	srv, st := setupTestServer(t)

	rec := get(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "idle", body.Scheduler)
	require.Equal(t, 2, body.Pending)
	require.Equal(t, map[string]bool{"mqtt": true, "kafka": false}, body.Sources)

	require.NoError(t, st.Close())
	rec = get(t, srv, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDevices(t *testing.T) {
	srv, st := setupTestServer(t)
	ctx := context.Background()

	rec := get(t, srv, "/api/v1/devices")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	require.NoError(t, st.UpsertDevice(ctx, "dev-b"))
	require.NoError(t, st.UpsertDevice(ctx, "dev-a"))

	rec = get(t, srv, "/api/v1/devices")
	var devices []types.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	require.Len(t, devices, 2)
	require.Equal(t, "dev-a", devices[0].DeviceID)

	rec = get(t, srv, "/api/v1/devices/dev-b")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, srv, "/api/v1/devices/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadings(t *testing.T) {
	srv, st := setupTestServer(t)
	ctx := context.Background()

	for ts := int64(0); ts < 5; ts++ {
		require.NoError(t, st.InsertReading(ctx, types.Record{
			DeviceID:  "dev-1",
			Timestamp: ts * 60,
			Features:  types.Features{20, 50, 0},
		}))
	}

	tests := []struct {
		name  string
		query string
		code  int
		count int
	}{
		{"all", "", http.StatusOK, 5},
		{"since", "?since=120", http.StatusOK, 3},
		{"window", "?since=60&until=180", http.StatusOK, 2},
		{"limit", "?limit=2", http.StatusOK, 2},
		{"bad since", "?since=yesterday", http.StatusBadRequest, 0},
		{"negative limit", "?limit=-1", http.StatusBadRequest, 0},
		{"huge limit", "?limit=1000000", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, srv, "/api/v1/devices/dev-1/readings"+tt.query)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			var readings []types.StoredReading
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &readings))
			require.Len(t, readings, tt.count)
		})
	}

	rec := get(t, srv, "/api/v1/devices/unknown/readings")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestWeather(t *testing.T) {
	srv, st := setupTestServer(t)
	ctx := context.Background()

	rec := get(t, srv, "/api/v1/weather")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"observation":null,"forecasts":[]}`, rec.Body.String())

	require.NoError(t, st.InsertObservation(ctx, types.WeatherObservation{ObservedAt: 100, Station: "8523X", Temperature: 18}))
	require.NoError(t, st.InsertForecasts(ctx, []types.RainForecast{
		{FetchedAt: 100, Municipality: "12027", DayOffset: 0, Date: "2024-05-01", Probability: 40},
	}))

	rec = get(t, srv, "/api/v1/weather")
	var body weatherResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Observation)
	require.Equal(t, 18.0, body.Observation.Temperature)
	require.Len(t, body.Forecasts, 1)
}

func TestMetricsRoute(t *testing.T) {
	srv, _ := setupTestServer(t)

	get(t, srv, "/healthz")
	rec := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `telegate_http_requests_total{route="healthz",status="200"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	srv, _ := setupTestServer(t)
	srv.cfg.Listen = "127.0.0.1:0"
	srv.http.Addr = srv.cfg.Listen

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
