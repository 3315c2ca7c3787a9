// telegated is the telemetry gateway daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/telegate/internal/buffer"
	"github.com/xtxerr/telegate/internal/config"
	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/flush"
	"github.com/xtxerr/telegate/internal/httpapi"
	"github.com/xtxerr/telegate/internal/ingest"
	"github.com/xtxerr/telegate/internal/logging"
	"github.com/xtxerr/telegate/internal/metrics"
	"github.com/xtxerr/telegate/internal/store"
	"github.com/xtxerr/telegate/internal/weather"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("telegated")

func main() {
	cfgPath := flag.String("config", "telegate.yaml", "config file path")
	dbPath := flag.String("db", "", "database path (overrides config)")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath, *dbPath, *listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telegated: %v\n", err)
		os.Exit(1)
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	logging.Init(level, cfg.Log.Format)

	if err := run(cfg); err != nil {
		log.Error("telegated failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads path, falling back to the defaults when it does not
// exist, and applies the command line overrides. The result is validated
// after the overrides so a bad flag fails here rather than mid-startup.
func loadConfig(path, dbPath, listen string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}

	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if listen != "" {
		cfg.HTTP.Listen = listen
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	log.Info("telegated starting", "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// =========================================================================
	// Store
	// =========================================================================

	storeCfg := store.DefaultConfig()
	storeCfg.DSN = cfg.Store.Path
	storeCfg.InsertRetryDelay = cfg.Store.InsertRetryDelay
	storeCfg.RegisterRetryDelay = cfg.Store.RegisterRetryDelay
	if cfg.Store.MaxOpenConns > 0 {
		storeCfg.MaxOpenConns = cfg.Store.MaxOpenConns
	}
	if cfg.Store.QueryTimeout > 0 {
		storeCfg.QueryTimeout = cfg.Store.QueryTimeout
	}

	st, err := store.New(storeCfg)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("close store", "error", err)
		}
	}()
	m.RegisterStore(func() (int64, int64) {
		s := st.Stats()
		return s.Retries, s.Reconnects
	})

	// =========================================================================
	// Pipeline: buffer, handler, scheduler
	// =========================================================================

	buf := buffer.New()
	m.RegisterBuffer(func() (int, int64) {
		s := buf.Stats()
		return s.Devices, s.Pending
	})

	handler := ingest.NewHandler(buf, st, &ingest.HandlerConfig{Metrics: m})

	sched := flush.New(buf, st, &flush.Config{
		Interval:       cfg.Flush.Interval,
		StopTimeout:    cfg.Flush.StopTimeout,
		SkipFinalFlush: cfg.Flush.SkipFinalFlush,
		Metrics:        m,
	})

	// =========================================================================
	// Run
	// =========================================================================

	// Registrations outlive ctx so queued upserts can land during shutdown;
	// they stop once the scheduler is done.
	regCtx, stopRegistrations := context.WithCancel(context.Background())
	defer stopRegistrations()

	g, gctx := errgroup.WithContext(ctx)
	sources := make(map[string]httpapi.Source)

	g.Go(func() error {
		return handler.RunRegistrations(regCtx)
	})

	if cfg.MQTT.Enabled {
		src := ingest.NewMQTTSource(ingest.MQTTConfig{
			Broker:            cfg.MQTT.Broker,
			ClientID:          cfg.MQTT.ClientID,
			Username:          cfg.MQTT.Username,
			Password:          cfg.MQTT.Password,
			RegistrationTopic: cfg.MQTT.RegistrationTopic,
			ReadingTopic:      cfg.MQTT.ReadingTopic,
			ConnectTimeout:    cfg.MQTT.ConnectTimeout,
		}, handler)
		sources[ingest.SourceMQTT] = src
		g.Go(func() error { return src.Run(gctx) })
	}

	if cfg.Kafka.Enabled {
		src := ingest.NewKafkaSource(ingest.KafkaConfig{
			Brokers:           cfg.Kafka.Brokers,
			GroupID:           cfg.Kafka.GroupID,
			RegistrationTopic: cfg.Kafka.RegistrationTopic,
			ReadingTopic:      cfg.Kafka.ReadingTopic,
		}, handler)
		g.Go(func() error { return src.Run(gctx) })
	}

	if cfg.WeatherActive() {
		client := weather.NewClient(weather.Config{
			BaseURL:            cfg.Weather.BaseURL,
			APIKey:             cfg.Weather.APIKey,
			Station:            cfg.Weather.Station,
			Municipality:       cfg.Weather.Municipality,
			Timeout:            cfg.Weather.RequestTimeout,
			BreakerFailures:    cfg.Weather.BreakerFailures,
			BreakerOpenTimeout: cfg.Weather.BreakerOpenTimeout,
			Metrics:            m,
		})
		poller := weather.NewPoller(client, st, cfg.Weather.Interval)
		g.Go(func() error { return poller.Run(gctx) })
	} else if cfg.Weather.Enabled {
		log.Warn("weather poller disabled: no API key")
	}

	if cfg.HTTP.Listen != "" {
		srv := httpapi.New(&httpapi.Config{
			Listen:       cfg.HTTP.Listen,
			TLSCertFile:  cfg.HTTP.TLSCertFile,
			TLSKeyFile:   cfg.HTTP.TLSKeyFile,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			Store:        st,
			Scheduler:    sched,
			Sources:      sources,
			Metrics:      m,
		})
		g.Go(func() error { return srv.Run(gctx) })
	}

	if err := sched.Start(); err != nil {
		return err
	}

	// =========================================================================
	// Shutdown
	// =========================================================================

	<-gctx.Done()
	log.Info("shutting down")

	if err := sched.Stop(); err != nil {
		log.Warn("flush scheduler did not stop cleanly",
			"error", err,
			"pending_records", sched.Pending())
	}
	stopRegistrations()

	err = g.Wait()
	stats := handler.Stats()
	log.Info("telegated stopped",
		"received", stats.Received,
		"registered", stats.Registered,
		"registrations_dropped", stats.Dropped,
		"malformed", stats.Malformed)
	return err
}
