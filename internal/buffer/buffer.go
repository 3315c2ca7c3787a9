// Package buffer holds raw samples per device between flush cycles.
//
// Each device owns an independently locked slice. Appends to different
// devices never contend, and Drain swaps a device's slice out under its lock
// so every sample lands in exactly one drained batch.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/xtxerr/telegate/internal/types"
)

// Buffer maps device IDs to their pending samples.
type Buffer struct {
	devices sync.Map // string -> *deviceBuffer
	count   atomic.Int64

	// Statistics
	appendCount atomic.Int64
	drainCount  atomic.Int64
	drained     atomic.Int64
}

type deviceBuffer struct {
	mu      sync.Mutex
	samples []types.Sample
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append adds a sample to the end of the device's buffer, creating the
// buffer on first use.
func (b *Buffer) Append(deviceID string, s types.Sample) {
	db := b.device(deviceID)

	db.mu.Lock()
	db.samples = append(db.samples, s)
	db.mu.Unlock()

	b.appendCount.Add(1)
}

// Drain removes and returns everything buffered for the device, oldest first.
// Unknown and empty devices return nil.
func (b *Buffer) Drain(deviceID string) []types.Sample {
	v, ok := b.devices.Load(deviceID)
	if !ok {
		return nil
	}
	db := v.(*deviceBuffer)

	db.mu.Lock()
	samples := db.samples
	db.samples = nil
	db.mu.Unlock()

	if len(samples) > 0 {
		b.drainCount.Add(1)
		b.drained.Add(int64(len(samples)))
	}
	return samples
}

// Devices returns every device ID seen so far, in no particular order.
func (b *Buffer) Devices() []string {
	ids := make([]string, 0, b.count.Load())
	b.devices.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

// Len returns the number of samples currently buffered for the device.
func (b *Buffer) Len(deviceID string) int {
	v, ok := b.devices.Load(deviceID)
	if !ok {
		return 0
	}
	db := v.(*deviceBuffer)

	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.samples)
}

// DeviceCount returns the number of known devices.
func (b *Buffer) DeviceCount() int {
	return int(b.count.Load())
}

func (b *Buffer) device(deviceID string) *deviceBuffer {
	if v, ok := b.devices.Load(deviceID); ok {
		return v.(*deviceBuffer)
	}
	v, loaded := b.devices.LoadOrStore(deviceID, &deviceBuffer{})
	if !loaded {
		b.count.Add(1)
	}
	return v.(*deviceBuffer)
}

// Stats holds buffer statistics.
type Stats struct {
	Devices     int
	Pending     int64 // samples appended but not yet drained
	AppendCount int64
	DrainCount  int64 // drains that returned samples
	Drained     int64
}

// Stats returns buffer statistics.
func (b *Buffer) Stats() Stats {
	drained := b.drained.Load()
	appended := b.appendCount.Load()
	pending := appended - drained
	if pending < 0 {
		// A drain can be counted before the racing append bumps its counter.
		pending = 0
	}
	return Stats{
		Devices:     b.DeviceCount(),
		Pending:     pending,
		AppendCount: appended,
		DrainCount:  b.drainCount.Load(),
		Drained:     drained,
	}
}
