package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/xtxerr/telegate/config"
	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/logging"
	"github.com/xtxerr/telegate/internal/metrics"
	"github.com/xtxerr/telegate/internal/types"
)

var log = logging.Component("ingest")

// Appender receives accepted samples. *buffer.Buffer satisfies it.
type Appender interface {
	Append(deviceID string, s types.Sample)
}

// Registrar persists device registrations. *store.Store satisfies it; its
// UpsertDevice blocks until the row is written or ctx ends.
type Registrar interface {
	UpsertDevice(ctx context.Context, deviceID string) error
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// QueueSize is the capacity of the registration queue.
	QueueSize int

	// Now stamps readings on receipt. Defaults to time.Now.
	Now func() time.Time

	Metrics *metrics.Metrics
}

// Handler validates events from any transport and routes them: readings
// into the buffer, registrations onto a queue served by RunRegistrations.
//
// Registrations are queued so a store that is retrying never holds up the
// transport callback that also delivers readings. A full queue drops the
// registration rather than block that callback; devices re-announce on
// reconnect, and the upsert is idempotent.
type Handler struct {
	buffer    Appender
	registrar Registrar
	metrics   *metrics.Metrics
	now       func() time.Time

	queue chan queued

	received   atomic.Int64
	registered atomic.Int64
	dropped    atomic.Int64
	malformed  atomic.Int64
}

// queued is a registration waiting for the store.
type queued struct {
	deviceID string
	source   string
}

// NewHandler creates a handler. cfg may be nil.
func NewHandler(buf Appender, reg Registrar, cfg *HandlerConfig) *Handler {
	if cfg == nil {
		cfg = &HandlerConfig{}
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = config.DefaultRegistrationQueueSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Handler{
		buffer:    buf,
		registrar: reg,
		metrics:   cfg.Metrics,
		now:       now,
		queue:     make(chan queued, size),
	}
}

// HandleReading decodes a reading, stamps it with the receipt time and
// appends it to the buffer. Malformed payloads are logged, counted and
// returned as an ErrMalformedInput error; nothing is buffered for them.
func (h *Handler) HandleReading(source string, payload []byte) error {
	deviceID, features, err := DecodeReading(payload)
	if err != nil {
		h.reject(source, KindReading, payload, err)
		return err
	}

	h.buffer.Append(deviceID, types.Sample{
		Timestamp: h.now().Unix(),
		Features:  features,
	})
	h.received.Add(1)
	h.metrics.SampleReceived()

	log.Debug("sample buffered", "source", source, "device_id", deviceID)
	return nil
}

// HandleRegistration decodes a registration and queues the upsert. It never
// blocks: when the queue is full the registration is dropped, counted and
// returned as an ErrQueueFull error.
func (h *Handler) HandleRegistration(source string, payload []byte) error {
	reg, err := DecodeRegistration(payload)
	if err != nil {
		h.reject(source, KindRegistration, payload, err)
		return err
	}

	select {
	case h.queue <- queued{deviceID: reg.DeviceID, source: source}:
		log.Debug("registration queued", "source", source, "device_id", reg.DeviceID)
		return nil
	default:
		h.dropped.Add(1)
		h.metrics.RegistrationDropped()
		log.Warn("registration dropped, queue full",
			"source", source,
			"device_id", reg.DeviceID,
			"capacity", cap(h.queue))
		return errors.Wrapf(errors.ErrQueueFull, "registration of %s", reg.DeviceID)
	}
}

// RunRegistrations persists queued registrations one at a time until ctx
// ends. Each upsert blocks until it succeeds, so registrations are written
// in arrival order.
func (h *Handler) RunRegistrations(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(h.queue); n > 0 {
				log.Warn("registrations not persisted at shutdown", "count", n)
			}
			return nil
		case q := <-h.queue:
			id := q.deviceID
			uctx := logging.ContextWithSource(logging.ContextWithDeviceID(ctx, id), q.source)
			if err := h.registrar.UpsertDevice(uctx, id); err != nil {
				if ctx.Err() != nil || errors.Is(err, errors.ErrStoreClosed) {
					log.Warn("registration abandoned", "device_id", id, "error", err)
					return nil
				}
				log.Error("registration failed", "device_id", id, "error", err)
				continue
			}
			h.registered.Add(1)
			h.metrics.Registration()
			log.Info("device registered", "device_id", id)
		}
	}
}

func (h *Handler) reject(source, kind string, payload []byte, err error) {
	h.malformed.Add(1)
	h.metrics.Malformed(source, kind)
	log.Warn("malformed event dropped",
		"source", source,
		"kind", kind,
		"error", err,
		"payload", truncate(payload, 256))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Stats returns handler counters.
func (h *Handler) Stats() HandlerStats {
	return HandlerStats{
		Received:      h.received.Load(),
		Registered:    h.registered.Load(),
		Dropped:       h.dropped.Load(),
		Malformed:     h.malformed.Load(),
		QueuedDevices: len(h.queue),
	}
}

// HandlerStats holds handler counters.
type HandlerStats struct {
	Received      int64
	Registered    int64
	Dropped       int64
	Malformed     int64
	QueuedDevices int
}
