package parquet

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// FrameReader reads frames from a Parquet file.
type FrameReader struct {
	file   *os.File
	reader *parquet.GenericReader[FrameRow]
	path   string
}

// NewFrameReader opens a recording.
func NewFrameReader(path string) (*FrameReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &FrameReader{
		file:   f,
		reader: parquet.NewGenericReader[FrameRow](f),
		path:   path,
	}, nil
}

// Read reads up to n rows. It returns io.EOF once no rows remain.
func (r *FrameReader) Read(n int) ([]FrameRow, error) {
	rows := make([]FrameRow, n)
	count, err := r.reader.Read(rows)
	if count > 0 && stderrors.Is(err, io.EOF) {
		err = nil
	}
	return rows[:count], err
}

// ReadAll reads every row.
func (r *FrameReader) ReadAll() ([]FrameRow, error) {
	rows := make([]FrameRow, r.reader.NumRows())

	n, err := r.reader.Read(rows)
	if err != nil && !stderrors.Is(err, io.EOF) {
		return nil, err
	}
	return rows[:n], nil
}

// NumRows returns the number of rows in the file.
func (r *FrameReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *FrameReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *FrameReader) Path() string {
	return r.path
}
