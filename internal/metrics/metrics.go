// Package metrics exposes gateway counters in Prometheus format.
//
// Every Metrics owns its registry, so tests can build as many as they like.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "telegate"

// Metrics holds the gateway collectors.
type Metrics struct {
	registry *prometheus.Registry

	samplesReceived prometheus.Counter
	registrations   prometheus.Counter
	regDropped      prometheus.Counter
	malformed       *prometheus.CounterVec

	recordsWritten prometheus.Counter
	degenerate     prometheus.Counter
	skipped        prometheus.Counter
	tickDuration   prometheus.Histogram
	insertDuration prometheus.Histogram

	weatherErrors *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samplesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_received_total",
			Help:      "Readings accepted into the sample buffer.",
		}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Device registrations persisted.",
		}),
		regDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_dropped_total",
			Help:      "Device registrations dropped because the registration queue was full.",
		}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_events_total",
			Help:      "Ingested events rejected as malformed, by source and kind.",
		}, []string{"source", "kind"}),
		recordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Aggregated records persisted by the flush loop.",
		}),
		degenerate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degenerate_windows_total",
			Help:      "Windows without positive duration stored as raw samples.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_windows_total",
			Help:      "Drained windows with a single sample, which produce no record.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_tick_duration_seconds",
			Help:      "Duration of one flush cycle across all devices.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		insertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "insert_duration_seconds",
			Help:      "Duration of one reading insert including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		weatherErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_fetch_errors_total",
			Help:      "Failed weather API fetches by endpoint.",
		}, []string{"endpoint"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.samplesReceived,
		m.registrations,
		m.regDropped,
		m.malformed,
		m.recordsWritten,
		m.degenerate,
		m.skipped,
		m.tickDuration,
		m.insertDuration,
		m.weatherErrors,
		m.breakerState,
		m.httpRequestsTotal,
		m.httpDuration,
	)

	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// =============================================================================
// Component gauges
// =============================================================================

// BufferStats reports the sample buffer occupancy.
type BufferStats func() (devices int, pending int64)

// RegisterBuffer exposes buffer occupancy, read at scrape time.
func (m *Metrics) RegisterBuffer(stats BufferStats) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_devices",
			Help:      "Devices known to the sample buffer.",
		}, func() float64 {
			devices, _ := stats()
			return float64(devices)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_samples",
			Help:      "Samples waiting for the next flush.",
		}, func() float64 {
			_, pending := stats()
			return float64(pending)
		}),
	)
}

// StoreStats reports cumulative store retry counters.
type StoreStats func() (retries, reconnects int64)

// RegisterStore exposes store retry and reconnect counters, read at scrape time.
func (m *Metrics) RegisterStore(stats StoreStats) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Store operation attempts that failed and were retried.",
		}, func() float64 {
			retries, _ := stats()
			return float64(retries)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_reconnects_total",
			Help:      "Times the store reopened a closed database handle.",
		}, func() float64 {
			_, reconnects := stats()
			return float64(reconnects)
		}),
	)
}

// =============================================================================
// Ingest
// =============================================================================

// SampleReceived counts one accepted reading.
func (m *Metrics) SampleReceived() {
	if m == nil {
		return
	}
	m.samplesReceived.Inc()
}

// Registration counts one persisted registration.
func (m *Metrics) Registration() {
	if m == nil {
		return
	}
	m.registrations.Inc()
}

// RegistrationDropped counts one registration refused by a full queue.
func (m *Metrics) RegistrationDropped() {
	if m == nil {
		return
	}
	m.regDropped.Inc()
}

// Malformed counts one rejected event.
func (m *Metrics) Malformed(source, kind string) {
	if m == nil {
		return
	}
	m.malformed.WithLabelValues(source, kind).Inc()
}

// =============================================================================
// Flush
// =============================================================================

// ObserveTick records one flush cycle.
func (m *Metrics) ObserveTick(d time.Duration, records, degenerate, skipped int) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
	m.recordsWritten.Add(float64(records))
	m.degenerate.Add(float64(degenerate))
	m.skipped.Add(float64(skipped))
}

// ObserveInsert records the duration of one insert including retries.
func (m *Metrics) ObserveInsert(d time.Duration) {
	if m == nil {
		return
	}
	m.insertDuration.Observe(d.Seconds())
}

// =============================================================================
// Weather
// =============================================================================

// WeatherError counts one failed weather fetch.
func (m *Metrics) WeatherError(endpoint string) {
	if m == nil {
		return
	}
	m.weatherErrors.WithLabelValues(endpoint).Inc()
}

// BreakerState sets the circuit breaker gauge for target.
func (m *Metrics) BreakerState(target string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(target).Set(float64(state))
}

// =============================================================================
// HTTP
// =============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their durations under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
