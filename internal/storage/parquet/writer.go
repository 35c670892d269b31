// Package parquet stores acquired frames as Parquet files, one row per
// frame.
package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/wire"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// RowGroupSize is the target number of rows per row group.
	RowGroupSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
	}
}

// ParseCompressionType parses a compression name.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "snappy":
		return CompressionSnappy, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "gzip":
		return CompressionGzip, nil
	case "none", "":
		return CompressionNone, nil
	default:
		return CompressionZstd, errors.NewInvalidValue("recording.compression", s,
			"must be none, snappy, zstd, lz4 or gzip")
	}
}

func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// FrameRow is one frame in Parquet format.
type FrameRow struct {
	SessionID  string  `parquet:"session_id,dict"`
	Seq        int64   `parquet:"seq"`
	ReceivedMs int64   `parquet:"received_ms"`
	Index      float64 `parquet:"index"`

	V1 float64 `parquet:"v1"`
	V2 float64 `parquet:"v2"`
	V3 float64 `parquet:"v3"`
	I1 float64 `parquet:"i1"`
	I2 float64 `parquet:"i2"`
	I3 float64 `parquet:"i3"`

	F0V1 float64 `parquet:"f0_v1"`
	F0V2 float64 `parquet:"f0_v2"`
	F0V3 float64 `parquet:"f0_v3"`
	F0I1 float64 `parquet:"f0_i1"`
	F0I2 float64 `parquet:"f0_i2"`
	F0I3 float64 `parquet:"f0_i3"`
}

// NewFrameRow converts a received frame to a row.
func NewFrameRow(sessionID string, seq uint64, at time.Time, f wire.Frame) FrameRow {
	return FrameRow{
		SessionID:  sessionID,
		Seq:        int64(seq),
		ReceivedMs: at.UnixMilli(),
		Index:      f.Index,
		V1:         f.Samples[0],
		V2:         f.Samples[1],
		V3:         f.Samples[2],
		I1:         f.Samples[3],
		I2:         f.Samples[4],
		I3:         f.Samples[5],
		F0V1:       f.Frequencies[0],
		F0V2:       f.Frequencies[1],
		F0V3:       f.Frequencies[2],
		F0I1:       f.Frequencies[3],
		F0I2:       f.Frequencies[4],
		F0I3:       f.Frequencies[5],
	}
}

// Frame converts the row back to a frame.
func (r *FrameRow) Frame() wire.Frame {
	return wire.Frame{
		Index:       r.Index,
		Samples:     [wire.NumChannels]float64{r.V1, r.V2, r.V3, r.I1, r.I2, r.I3},
		Frequencies: [wire.NumChannels]float64{r.F0V1, r.F0V2, r.F0V3, r.F0I1, r.F0I2, r.F0I3},
	}
}

// FrameWriter writes frames to a Parquet file.
type FrameWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[FrameRow]
	rowCount int64
	closed   bool
}

// NewFrameWriter creates the file at path and its directory.
func NewFrameWriter(path string, opts Options) (*FrameWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}
	if opts.RowGroupSize > 0 {
		writerOpts = append(writerOpts, parquet.MaxRowsPerRowGroup(int64(opts.RowGroupSize)))
	}

	return &FrameWriter{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[FrameRow](f, writerOpts...),
	}, nil
}

// Write appends rows.
func (w *FrameWriter) Write(rows []FrameRow) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.rowCount += int64(n)
	return nil
}

// Close writes the footer and closes the file.
func (w *FrameWriter) Close() error {
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
func (w *FrameWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *FrameWriter) Path() string {
	return w.path
}
