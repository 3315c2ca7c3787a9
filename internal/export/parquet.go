// Package export writes stored readings to Parquet files for offline
// analysis.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/telegate/internal/store"
	"github.com/xtxerr/telegate/internal/types"
)

// Options configures the Parquet writer.
type Options struct {
	Compression CompressionType

	// RowGroupSize is the number of rows buffered before a row group is
	// flushed. 0 leaves the library default.
	RowGroupSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
	}
}

// ParseCompressionType parses a compression name. Unknown names fall back
// to zstd.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "none", "":
		return CompressionNone
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	default:
		return CompressionZstd
	}
}

func codec(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// ReadingRow is one stored reading in Parquet form.
type ReadingRow struct {
	DeviceID    string  `parquet:"device_id,dict,zstd"`
	Timestamp   int64   `parquet:"timestamp"`
	Temperature float64 `parquet:"temperature"`
	Humidity    float64 `parquet:"humidity"`
	RainPulses  float64 `parquet:"rain_pulses"`
	Anomalous   bool    `parquet:"anomalous"`
}

func toRow(r types.StoredReading) ReadingRow {
	return ReadingRow{
		DeviceID:    r.DeviceID,
		Timestamp:   r.Timestamp,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		RainPulses:  r.RainPulses,
		Anomalous:   r.Anomalous,
	}
}

func fromRow(r ReadingRow) types.StoredReading {
	return types.StoredReading(r)
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("parquet writer is closed")

// =============================================================================
// Writer
// =============================================================================

// Writer writes readings to a Parquet file.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[ReadingRow]
	rowCount int64
	closed   bool
}

// NewWriter creates the file at path, and any missing parent directories.
func NewWriter(path string, opts Options) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(codec(opts.Compression)),
		parquet.CreatedBy("telegate", "", ""),
	}
	if opts.RowGroupSize > 0 {
		writerOpts = append(writerOpts, parquet.MaxRowsPerRowGroup(int64(opts.RowGroupSize)))
	}

	return &Writer{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[ReadingRow](f, writerOpts...),
	}, nil
}

// Write appends readings to the file.
func (w *Writer) Write(readings []types.StoredReading) error {
	if len(readings) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]ReadingRow, len(readings))
	for i, r := range readings {
		rows[i] = toRow(r)
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}

// =============================================================================
// Reader
// =============================================================================

// ReadFile returns every reading stored in a Parquet file written by Writer.
func ReadFile(path string) ([]types.StoredReading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[ReadingRow](f)
	defer reader.Close()

	out := make([]types.StoredReading, 0, reader.NumRows())
	rows := make([]ReadingRow, 1024)
	for {
		n, err := reader.Read(rows)
		for _, r := range rows[:n] {
			out = append(out, fromRow(r))
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
		if n == 0 {
			return out, nil
		}
	}
}

// =============================================================================
// Export
// =============================================================================

// Source is the store query used by Readings.
type Source interface {
	Readings(ctx context.Context, q store.ReadingQuery) ([]types.StoredReading, error)
}

// Readings writes the stored readings of deviceID, or of every device when
// deviceID is empty, to path. It returns the number of rows written.
func Readings(ctx context.Context, src Source, path, deviceID string, opts Options) (int64, error) {
	readings, err := src.Readings(ctx, store.ReadingQuery{DeviceID: deviceID, Limit: -1})
	if err != nil {
		return 0, err
	}

	w, err := NewWriter(path, opts)
	if err != nil {
		return 0, err
	}
	if err := w.Write(readings); err != nil {
		w.Close()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.RowCount(), nil
}
