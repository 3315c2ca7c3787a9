// Package httpapi serves health, metrics and read-only query endpoints.
//
// Routes:
//
//	GET /healthz                          store ping, scheduler and source status
//	GET /metrics                          Prometheus exposition
//	GET /api/v1/devices                   registered devices
//	GET /api/v1/devices/{id}              one device
//	GET /api/v1/devices/{id}/readings     stored readings (?since=&until=&limit=)
//	GET /api/v1/weather                   latest observation and forecasts
package httpapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xtxerr/telegate/config"
	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/flush"
	"github.com/xtxerr/telegate/internal/logging"
	"github.com/xtxerr/telegate/internal/metrics"
	"github.com/xtxerr/telegate/internal/store"
	"github.com/xtxerr/telegate/internal/types"
)

var log = logging.Component("httpapi")

// =============================================================================
// Dependencies
// =============================================================================

// Store is the read side of *store.Store.
type Store interface {
	Health(ctx context.Context) error
	ListDevices(ctx context.Context) ([]types.Device, error)
	GetDevice(ctx context.Context, deviceID string) (*types.Device, error)
	Readings(ctx context.Context, q store.ReadingQuery) ([]types.StoredReading, error)
	LatestObservation(ctx context.Context) (*types.WeatherObservation, error)
	LatestForecasts(ctx context.Context) ([]types.RainForecast, error)
}

// Scheduler reports flush scheduler status. *flush.Scheduler satisfies it.
type Scheduler interface {
	State() flush.State
	Pending() int
}

// Source reports whether an ingestion source is connected.
type Source interface {
	Ready() bool
}

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., ":9180").
	Listen string

	// TLS configuration (optional).
	TLSCertFile string
	TLSKeyFile  string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Store     Store
	Scheduler Scheduler

	// Sources are reported by name on /healthz.
	Sources map[string]Source

	Metrics *metrics.Metrics
}

// =============================================================================
// Server
// =============================================================================

// Server is the HTTP API server.
type Server struct {
	cfg    *Config
	router *mux.Router
	http   *http.Server
}

// New creates a server and registers its routes.
func New(cfg *Config) *Server {
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultHTTPListen
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = config.DefaultHTTPReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = config.DefaultHTTPWriteTimeout
	}

	s := &Server{cfg: cfg, router: mux.NewRouter()}
	s.routes()

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	m := s.cfg.Metrics
	r := s.router

	r.Handle("/healthz", m.WrapHandler("healthz", http.HandlerFunc(s.handleHealth))).Methods(http.MethodGet)
	r.Handle("/metrics", m.WrapHandler("metrics", m.Handler())).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Handle("/devices", m.WrapHandler("devices", http.HandlerFunc(s.handleDevices))).Methods(http.MethodGet)
	api.Handle("/devices/{id}", m.WrapHandler("device", http.HandlerFunc(s.handleDevice))).Methods(http.MethodGet)
	api.Handle("/devices/{id}/readings", m.WrapHandler("readings", http.HandlerFunc(s.handleReadings))).Methods(http.MethodGet)
	api.Handle("/weather", m.WrapHandler("weather", http.HandlerFunc(s.handleWeather))).Methods(http.MethodGet)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens and serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	var ln net.Listener
	var err error

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load TLS cert: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln, err = tls.Listen("tcp", s.cfg.Listen, tlsCfg)
		if err != nil {
			return fmt.Errorf("TLS listen: %w", err)
		}
		log.Info("listening with TLS", "address", s.cfg.Listen)
	} else {
		ln, err = net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		log.Info("listening without TLS", "address", s.cfg.Listen)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	log.Info("http server stopped")
	return nil
}
