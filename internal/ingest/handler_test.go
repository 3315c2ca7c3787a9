package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xtxerr/telegate/internal/buffer"
	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/metrics"
	"github.com/xtxerr/telegate/internal/testutil"
)

// fakeRegistrar records upserts. When block is set, every upsert waits for
// ctx to end, like a store that never recovers.
type fakeRegistrar struct {
	mu    sync.Mutex
	ids   []string
	block bool
}

func (r *fakeRegistrar) UpsertDevice(ctx context.Context, deviceID string) error {
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	r.mu.Lock()
	r.ids = append(r.ids, deviceID)
	r.mu.Unlock()
	return nil
}

func (r *fakeRegistrar) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestHandleReading_StampsReceiptTime(t *testing.T) {
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	buf := buffer.New()
	h := NewHandler(buf, &fakeRegistrar{}, &HandlerConfig{Now: clock.Now})

	require.NoError(t, h.HandleReading(SourceMQTT,
		[]byte(`{"deviceId":"dev-1","data":{"temperature":20,"humidity":50,"rainPulses":1}}`)))
	clock.Advance(30 * time.Second)
	require.NoError(t, h.HandleReading(SourceMQTT,
		[]byte(`{"deviceId":"dev-1","timestamp":5,"data":{"temperature":22,"humidity":52,"rainPulses":0}}`)))

	samples := buf.Drain("dev-1")
	require.Len(t, samples, 2)
	require.Equal(t, int64(1_700_000_000), samples[0].Timestamp)
	require.Equal(t, int64(1_700_000_030), samples[1].Timestamp)
	require.Equal(t, 22.0, samples[1].Features.Temperature())
	require.Equal(t, int64(2), h.Stats().Received)
}

func TestHandleReading_MalformedDropped(t *testing.T) {
	buf := buffer.New()
	m := metrics.New()
	h := NewHandler(buf, &fakeRegistrar{}, &HandlerConfig{Metrics: m})

	payloads := []string{
		`not json`,
		`{"data":{"temperature":1,"humidity":2,"rainPulses":3}}`,
		`{"deviceId":"dev-1","data":{"temperature":1,"humidity":2}}`,
	}
	for _, p := range payloads {
		err := h.HandleReading(SourceKafka, []byte(p))
		require.Error(t, err)
		require.True(t, errors.IsMalformed(err), "payload %s", p)
	}

	require.Equal(t, 0, buf.Len("dev-1"))
	require.Equal(t, int64(3), h.Stats().Malformed)
	require.Equal(t, int64(0), h.Stats().Received)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `telegate_malformed_events_total{kind="reading",source="kafka"} 3`)
}

func TestHandleRegistration_QueuedAndPersisted(t *testing.T) {
	reg := &fakeRegistrar{}
	h := NewHandler(buffer.New(), reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.RunRegistrations(ctx) }()

	for _, id := range []string{"a", "b", "a"} {
		require.NoError(t, h.HandleRegistration(SourceMQTT, []byte(`{"deviceId":"`+id+`"}`)))
	}

	testutil.Eventually(t, 2*time.Second, func() bool { return h.Stats().Registered == 3 }, "registrations not persisted")
	require.Equal(t, []string{"a", "b", "a"}, reg.IDs())

	cancel()
	require.NoError(t, <-done)
}

func TestHandleRegistration_Malformed(t *testing.T) {
	h := NewHandler(buffer.New(), &fakeRegistrar{}, nil)

	err := h.HandleRegistration(SourceMQTT, []byte(`{"id":"x"}`))
	require.ErrorIs(t, err, errors.ErrMissingDevice)
	require.Equal(t, 0, h.Stats().QueuedDevices)
}

// A stuck store must not hold up readings.
func TestHandleRegistration_StuckStoreDoesNotBlockReadings(t *testing.T) {
	buf := buffer.New()
	h := NewHandler(buf, &fakeRegistrar{block: true}, &HandlerConfig{QueueSize: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.RunRegistrations(ctx) }()

	require.NoError(t, h.HandleRegistration(SourceMQTT, []byte(`{"deviceId":"a"}`)))

	err := testutil.RunWithTimeout(time.Second, func() {
		for i := 0; i < 100; i++ {
			_ = h.HandleReading(SourceMQTT,
				[]byte(`{"deviceId":"a","data":{"temperature":1,"humidity":2,"rainPulses":3}}`))
		}
	})
	require.NoError(t, err)
	require.Equal(t, 100, buf.Len("a"))

	cancel()
	require.NoError(t, <-done)
}

func TestHandleRegistration_FullQueueDrops(t *testing.T) {
	m := metrics.New()
	h := NewHandler(buffer.New(), &fakeRegistrar{}, &HandlerConfig{QueueSize: 1, Metrics: m})

	// No worker is running, so the second registration finds the queue full.
	require.NoError(t, h.HandleRegistration(SourceMQTT, []byte(`{"deviceId":"a"}`)))

	var err error
	require.NoError(t, testutil.RunWithTimeout(time.Second, func() {
		err = h.HandleRegistration(SourceMQTT, []byte(`{"deviceId":"b"}`))
	}), "full queue blocked the caller")
	require.ErrorIs(t, err, errors.ErrQueueFull)

	stats := h.Stats()
	require.Equal(t, int64(1), stats.Dropped)
	require.Equal(t, 1, stats.QueuedDevices)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), "telegate_registrations_dropped_total 1")

	// Readings on the same goroutine still go through.
	require.NoError(t, h.HandleReading(SourceMQTT,
		[]byte(`{"deviceId":"b","data":{"temperature":1,"humidity":2,"rainPulses":3}}`)))
}
