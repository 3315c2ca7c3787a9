// Package aggregate turns a drained batch of samples into one record.
//
// The record carries the time-weighted mean of every feature: each sample's
// value is weighted by the time until the next sample, and the sum is divided
// by the span from the first to the last sample. The last sample only closes
// the window; its own value carries no weight.
package aggregate

import (
	"fmt"

	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/logging"
	"github.com/xtxerr/telegate/internal/types"
)

var log = logging.Component("aggregate")

// Outcome describes what Compute produced.
type Outcome int

const (
	// OutcomeNone means the batch had fewer than two samples.
	OutcomeNone Outcome = iota
	// OutcomeAggregated means the record holds a time-weighted mean.
	OutcomeAggregated
	// OutcomeDegenerate means the window had no positive duration and the
	// record is the last raw sample.
	OutcomeDegenerate
)

// String returns a human-readable representation of the Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeAggregated:
		return "aggregated"
	case OutcomeDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// HasRecord reports whether the outcome comes with a record to store.
func (o Outcome) HasRecord() bool {
	return o == OutcomeAggregated || o == OutcomeDegenerate
}

// Compute aggregates samples, which must be in arrival order.
//
// Fewer than two samples yield OutcomeNone. A window whose last timestamp is
// not after its first yields the last sample unchanged with Anomalous set.
func Compute(deviceID string, samples []types.Sample) (types.Record, Outcome) {
	n := len(samples)
	if n < 2 {
		return types.Record{}, OutcomeNone
	}

	first, last := samples[0], samples[n-1]
	totalTime := last.Timestamp - first.Timestamp
	if totalTime <= 0 {
		log.Warn("degenerate window, storing last raw sample",
			"device_id", deviceID,
			"samples", n,
			"first_ts", first.Timestamp,
			"last_ts", last.Timestamp,
			"error", WindowError(deviceID, first.Timestamp, last.Timestamp))
		return types.Record{
			DeviceID:  deviceID,
			Timestamp: last.Timestamp,
			Features:  last.Features,
			Anomalous: true,
		}, OutcomeDegenerate
	}

	var acc types.Features
	for i := 0; i < n-1; i++ {
		dt := float64(samples[i+1].Timestamp - samples[i].Timestamp)
		for f := range acc {
			acc[f] += dt * samples[i].Features[f]
		}
	}

	span := float64(totalTime)
	for f := range acc {
		acc[f] /= span
	}

	return types.Record{
		DeviceID:  deviceID,
		Timestamp: first.Timestamp,
		Features:  acc,
	}, OutcomeAggregated
}

// WindowError describes a window without positive duration.
func WindowError(deviceID string, firstTs, lastTs int64) error {
	return fmt.Errorf("device %s: window %d..%d: %w", deviceID, firstTs, lastTs, errors.ErrDegenerateWindow)
}
