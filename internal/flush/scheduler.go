// Package flush runs the periodic drain, aggregate and persist cycle.
//
// Every tick visits each device known to the buffer, drains it, aggregates the
// batch and hands the record to the writer. Devices are processed one after
// another and the writer blocks until its insert succeeds, so a store outage
// holds up the rest of the tick (head-of-line blocking). Ingestion is never
// blocked by a tick.
//
// State machine:
//
//	Idle -> Ticking -> Draining -> Idle
//	Idle -> Stopped (stop signal)
package flush

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/telegate/config"
	"github.com/xtxerr/telegate/internal/aggregate"
	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/logging"
	"github.com/xtxerr/telegate/internal/metrics"
	"github.com/xtxerr/telegate/internal/types"
)

var log = logging.Component("flush")

// =============================================================================
// Collaborators
// =============================================================================

// Source is the sample buffer as seen by the scheduler.
type Source interface {
	Devices() []string
	Drain(deviceID string) []types.Sample
}

// Writer persists one record, blocking until it is stored or ctx ends.
type Writer interface {
	InsertReading(ctx context.Context, rec types.Record) error
}

// =============================================================================
// State
// =============================================================================

// State is the scheduler lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateTicking
	StateDraining
	StateStopped
)

// String returns a human-readable representation of the State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTicking:
		return "ticking"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// =============================================================================
// Scheduler Configuration
// =============================================================================

// Config holds scheduler configuration.
type Config struct {
	// Interval is the time between ticks.
	Interval time.Duration

	// StopTimeout bounds Stop, including the final flush.
	StopTimeout time.Duration

	// SkipFinalFlush disables the flush that runs after the stop signal.
	SkipFinalFlush bool

	// Metrics receives tick and insert observations. May be nil.
	Metrics *metrics.Metrics
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:    config.DefaultFlushInterval,
		StopTimeout: config.DefaultStopTimeout,
	}
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler drives flush cycles on a fixed period.
type Scheduler struct {
	source Source
	writer Writer

	interval       time.Duration
	stopTimeout    time.Duration
	skipFinalFlush bool
	metrics        *metrics.Metrics

	state   atomic.Int32
	started atomic.Bool

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	stopOnce     sync.Once
	stopDeadline time.Time

	mu      sync.Mutex
	pending []types.Record // interrupted inserts, oldest first
	latency *ddsketch.DDSketch

	// Statistics
	ticks          atomic.Int64
	recordsWritten atomic.Int64
	degenerate     atomic.Int64
	skipped        atomic.Int64
	interrupted    atomic.Int64
	lastTickNs     atomic.Int64
}

// New creates a scheduler. Call Start to begin ticking.
func New(source Source, writer Writer, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = config.DefaultFlushInterval
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = config.DefaultStopTimeout
	}

	// 1% relative accuracy; the error is only returned for accuracy outside (0, 1).
	sketch, _ := ddsketch.NewDefaultDDSketch(0.01)

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		source:         source,
		writer:         writer,
		interval:       interval,
		stopTimeout:    stopTimeout,
		skipFinalFlush: cfg.SkipFinalFlush,
		metrics:        cfg.Metrics,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		latency:        sketch,
	}
}

// Start launches the tick loop. A scheduler that was stopped cannot be
// started; Start then returns ErrStopped.
func (s *Scheduler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		if s.ctx.Err() != nil {
			return errors.ErrStopped
		}
		return errors.ErrAlreadyStarted
	}

	go s.run()

	log.Info("flush scheduler started",
		"interval", s.interval,
		"stop_timeout", s.stopTimeout)
	return nil
}

// Stop signals the loop to stop and waits up to the stop timeout.
// Returns ErrStopTimeout if the loop is still busy when the timeout expires.
func (s *Scheduler) Stop() error {
	return s.StopWithContext(context.Background())
}

// StopWithContext stops the scheduler with a custom context.
// The stop timeout from config is still respected as a maximum.
func (s *Scheduler) StopWithContext(ctx context.Context) error {
	s.stopOnce.Do(func() {
		log.Info("flush scheduler stopping")
		s.stopDeadline = time.Now().Add(s.stopTimeout)
		s.cancel()
	})

	// Claim the scheduler so a later Start cannot launch the loop.
	if s.started.CompareAndSwap(false, true) {
		s.setState(StateStopped)
		close(s.done)
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()

	select {
	case <-s.done:
		log.Info("flush scheduler stopped")
		return nil
	case <-waitCtx.Done():
		log.Warn("flush scheduler stop timeout",
			"state", s.State(),
			"pending_records", s.Pending())
		return errors.ErrStopTimeout
	}
}

// Done is closed when the loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.ctx.Err() != nil {
				continue
			}
			s.Tick(s.ctx)
		case <-s.ctx.Done():
			s.finish()
			return
		}
	}
}

// finish runs the final flush under whatever remains of the stop timeout.
func (s *Scheduler) finish() {
	defer s.setState(StateStopped)

	if s.skipFinalFlush {
		if n := s.Pending(); n > 0 {
			log.Warn("stopping with unwritten records", "pending_records", n)
		}
		return
	}

	// Leave a tenth of the timeout so Stop sees the loop exit.
	deadline := s.stopDeadline.Add(-s.stopTimeout / 10)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	res := s.Tick(ctx)
	if res.Interrupted {
		log.Error("final flush incomplete, records lost",
			"pending_records", s.Pending(),
			"written", res.Records)
		return
	}
	log.Info("final flush complete", "written", res.Records, "devices", res.Devices)
}

// =============================================================================
// Tick
// =============================================================================

// TickResult summarizes one flush cycle.
type TickResult struct {
	Devices     int // devices visited
	Records     int // records written, including pending ones
	Degenerate  int // degenerate windows aggregated this tick
	Skipped     int // drained windows too short to aggregate
	Interrupted bool
	Duration    time.Duration
}

// Tick runs one flush cycle. It returns early, with Interrupted set, when
// ctx ends; undrained devices keep their samples and an aggregated record
// whose insert was cut short is kept for the next cycle.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	start := time.Now()
	s.setState(StateTicking)
	defer s.setState(StateIdle)

	var res TickResult

	if !s.flushPending(ctx, &res) {
		res.Interrupted = true
		return s.finishTick(start, res)
	}

	for _, deviceID := range s.source.Devices() {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}

		s.setState(StateDraining)
		samples := s.source.Drain(deviceID)
		if len(samples) == 0 {
			continue
		}
		res.Devices++

		rec, outcome := aggregate.Compute(deviceID, samples)
		switch outcome {
		case aggregate.OutcomeNone:
			res.Skipped++
			log.Debug("window too short, no record", "device_id", deviceID, "samples", len(samples))
			continue
		case aggregate.OutcomeDegenerate:
			res.Degenerate++
		}

		if err := s.write(ctx, rec); err != nil {
			s.addPending(rec)
			res.Interrupted = true
			log.Warn("insert interrupted, record kept for next flush",
				"device_id", deviceID,
				"timestamp", rec.Timestamp,
				"error", err)
			break
		}
		res.Records++
	}

	return s.finishTick(start, res)
}

func (s *Scheduler) finishTick(start time.Time, res TickResult) TickResult {
	res.Duration = time.Since(start)

	s.ticks.Add(1)
	s.degenerate.Add(int64(res.Degenerate))
	s.skipped.Add(int64(res.Skipped))
	if res.Interrupted {
		s.interrupted.Add(1)
	}
	s.lastTickNs.Store(start.UnixNano())
	s.metrics.ObserveTick(res.Duration, res.Records, res.Degenerate, res.Skipped)

	attrs := []any{
		"devices", res.Devices,
		"records", res.Records,
		"degenerate", res.Degenerate,
		"skipped", res.Skipped,
		"interrupted", res.Interrupted,
		"duration", res.Duration,
	}
	if res.Records > 0 || res.Interrupted {
		log.Info("flush complete", attrs...)
	} else {
		log.Debug("flush complete", attrs...)
	}
	return res
}

// flushPending writes records left over from interrupted inserts.
// Returns false if ctx ended before all were written.
func (s *Scheduler) flushPending(ctx context.Context, res *TickResult) bool {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return true
		}
		rec := s.pending[0]
		s.mu.Unlock()

		if ctx.Err() != nil {
			return false
		}
		if err := s.write(ctx, rec); err != nil {
			return false
		}

		s.mu.Lock()
		s.pending = s.pending[1:]
		s.mu.Unlock()
		res.Records++
	}
}

func (s *Scheduler) write(ctx context.Context, rec types.Record) error {
	start := time.Now()
	err := s.writer.InsertReading(logging.ContextWithDeviceID(ctx, rec.DeviceID), rec)
	elapsed := time.Since(start)

	s.metrics.ObserveInsert(elapsed)
	s.mu.Lock()
	s.latency.Add(float64(elapsed) / float64(time.Millisecond))
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.recordsWritten.Add(1)
	return nil
}

func (s *Scheduler) addPending(rec types.Record) {
	s.mu.Lock()
	s.pending = append(s.pending, rec)
	s.mu.Unlock()
}

// Pending returns the number of aggregated records waiting for a retry.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// =============================================================================
// Statistics
// =============================================================================

// Stats holds scheduler statistics.
type Stats struct {
	State          State
	Ticks          int64
	RecordsWritten int64
	Degenerate     int64
	Skipped        int64
	Interrupted    int64
	Pending        int
	LastTick       time.Time

	// Insert latency quantiles in milliseconds, including retries.
	InsertP50 float64
	InsertP90 float64
	InsertP99 float64
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		State:          s.State(),
		Ticks:          s.ticks.Load(),
		RecordsWritten: s.recordsWritten.Load(),
		Degenerate:     s.degenerate.Load(),
		Skipped:        s.skipped.Load(),
		Interrupted:    s.interrupted.Load(),
	}
	if ns := s.lastTickNs.Load(); ns > 0 {
		st.LastTick = time.Unix(0, ns)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st.Pending = len(s.pending)
	if !s.latency.IsEmpty() {
		st.InsertP50, _ = s.latency.GetValueAtQuantile(0.50)
		st.InsertP90, _ = s.latency.GetValueAtQuantile(0.90)
		st.InsertP99, _ = s.latency.GetValueAtQuantile(0.99)
	}
	return st
}
