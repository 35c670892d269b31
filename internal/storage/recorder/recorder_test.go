package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/powerscope/internal/storage/parquet"
	testutil "github.com/xtxerr/powerscope/internal/testing"
)

func TestRecorderWritesOneFilePerSession(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(Options{Dir: dir, Compression: parquet.CompressionSnappy})
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 30; i++ {
		rec.RecordFrame("aaaaaaaa-1111", uint64(i+1), at, testutil.ConstantFrame(float64(i), 1))
	}
	if err := rec.Flush(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		rec.RecordFrame("bbbbbbbb-2222", uint64(i+1), at.Add(time.Second), testutil.ConstantFrame(float64(i), 2))
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	files := rec.Files()
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}
	if want := filepath.Join(dir, "frames-20260102T030405-aaaaaaaa.parquet"); files[0] != want {
		t.Errorf("expected %s, got %s", want, files[0])
	}

	counts := []int64{30, 20}
	for i, path := range files {
		r, err := parquet.NewFrameReader(path)
		if err != nil {
			t.Fatal(err)
		}
		if r.NumRows() != counts[i] {
			t.Errorf("%s: expected %d rows, got %d", path, counts[i], r.NumRows())
		}
		r.Close()
	}

	// Ignored after close.
	rec.RecordFrame("late", 1, at, testutil.ConstantFrame(0, 0))
	if rec.Pending() != 0 {
		t.Errorf("expected no pending frames after close, got %d", rec.Pending())
	}
}

func TestRecorderDropsOldestWhenFull(t *testing.T) {
	rec, err := New(Options{Dir: t.TempDir(), QueueSize: 10})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 25; i++ {
		rec.RecordFrame("s", uint64(i+1), time.Now(), testutil.ConstantFrame(float64(i), 0))
	}
	if rec.Pending() != 10 {
		t.Errorf("expected 10 pending frames, got %d", rec.Pending())
	}

	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := parquet.NewFrameReader(rec.Files()[0])
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	rows, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 10 || rows[0].Seq != 16 {
		t.Errorf("expected the 10 newest frames starting at seq 16, got %d rows from %d", len(rows), rows[0].Seq)
	}
}

func TestRecorderRunFlushesOnCancel(t *testing.T) {
	rec, err := New(Options{Dir: t.TempDir(), FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	for i := 0; i < 5; i++ {
		rec.RecordFrame("run", uint64(i+1), time.Now(), testutil.ConstantFrame(float64(i), 0))
	}

	if err := testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return rec.Pending() == 0
	}); err != nil {
		t.Fatal(err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(rec.Files()) != 1 {
		t.Errorf("expected 1 file, got %v", rec.Files())
	}
}

func TestParseFileName(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	name := FileName("0123456789abcdef", at)

	got, err := ParseFileName("/data/" + name)
	if err != nil {
		t.Fatalf("ParseFileName failed: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("expected %v, got %v", at, got)
	}

	for _, bad := range []string{"notes.parquet", "frames-.parquet", "frames-2024.parquet"} {
		if _, err := ParseFileName(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
