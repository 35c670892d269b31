package parquet

import (
	stderrors "errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/powerscope/internal/errors"
	testutil "github.com/xtxerr/powerscope/internal/testing"
)

func TestFrameWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "frames.parquet")

	w, err := NewFrameWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewFrameWriter failed: %v", err)
	}

	at := time.UnixMilli(1700000000000)
	rows := make([]FrameRow, 100)
	for i := range rows {
		rows[i] = NewFrameRow("abc", uint64(i+1), at.Add(time.Duration(i)*time.Millisecond), testutil.SineFrame(i, 20))
	}
	if err := w.Write(rows); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if w.RowCount() != 100 {
		t.Errorf("expected 100 rows, got %d", w.RowCount())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Write(rows); !errors.Is(err, errors.ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}

	r, err := NewFrameReader(path)
	if err != nil {
		t.Fatalf("NewFrameReader failed: %v", err)
	}
	defer r.Close()

	if r.NumRows() != 100 {
		t.Fatalf("expected 100 rows in file, got %d", r.NumRows())
	}

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 rows, got %d", len(got))
	}

	for i, row := range got {
		want := testutil.SineFrame(i, 20)
		if row.Frame() != want {
			t.Errorf("row %d: expected %v, got %v", i, want, row.Frame())
			break
		}
		if row.Seq != int64(i+1) || row.SessionID != "abc" {
			t.Errorf("row %d: unexpected seq/session %d/%s", i, row.Seq, row.SessionID)
			break
		}
	}
	if got[5].ReceivedMs != 1700000000005 {
		t.Errorf("expected received_ms 1700000000005, got %d", got[5].ReceivedMs)
	}
}

func TestFrameReaderBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.parquet")

	w, err := NewFrameWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewFrameWriter failed: %v", err)
	}
	rows := make([]FrameRow, 70)
	for i := range rows {
		rows[i] = NewFrameRow("batch", uint64(i+1), time.UnixMilli(int64(i)), testutil.ConstantFrame(float64(i), 1))
	}
	if err := w.Write(rows); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := NewFrameReader(path)
	if err != nil {
		t.Fatalf("NewFrameReader failed: %v", err)
	}
	defer r.Close()

	total := 0
	for {
		batch, err := r.Read(30)
		total += len(batch)
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(batch) == 0 {
			t.Fatal("expected progress or io.EOF")
		}
	}
	if total != 70 {
		t.Errorf("expected 70 rows, got %d", total)
	}
}

func TestParseCompressionType(t *testing.T) {
	cases := map[string]CompressionType{
		"":       CompressionNone,
		"none":   CompressionNone,
		"snappy": CompressionSnappy,
		"ZSTD":   CompressionZstd,
		"lz4":    CompressionLZ4,
		"gzip":   CompressionGzip,
	}
	for in, want := range cases {
		got, err := ParseCompressionType(in)
		if err != nil || got != want {
			t.Errorf("%q: expected %v, got %v, %v", in, want, got, err)
		}
	}

	if _, err := ParseCompressionType("brotli"); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
