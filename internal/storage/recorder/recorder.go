// Package recorder writes every acquired frame to Parquet files, one file
// per acquisition session.
//
// The session hands frames over through RecordFrame, which only queues
// them; Run flushes the queue on an interval. When the queue is full the
// oldest queued frame is dropped, so a slow disk never stalls acquisition.
package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/powerscope/config"
	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/logging"
	"github.com/xtxerr/powerscope/internal/metrics"
	"github.com/xtxerr/powerscope/internal/storage/buffer"
	"github.com/xtxerr/powerscope/internal/storage/parquet"
	"github.com/xtxerr/powerscope/internal/wire"
)

var log = logging.Component("recorder")

const flushBatch = 4096

// Options configures a Recorder.
type Options struct {
	Dir           string
	Compression   parquet.CompressionType
	QueueSize     int
	FlushInterval time.Duration
	Metrics       *metrics.Collector
}

// Record is a queued frame.
type Record struct {
	SessionID  string
	Seq        uint64
	ReceivedAt time.Time
	Frame      wire.Frame
}

// Recorder queues frames and writes them to Parquet.
type Recorder struct {
	opts  Options
	queue *buffer.RingBuffer[Record]

	// mu serialises flushing and guards the open file.
	mu        sync.Mutex
	writer    *parquet.FrameWriter
	sessionID string
	files     []string

	closed atomic.Bool
}

// New creates a recorder writing into opts.Dir.
func New(opts Options) (*Recorder, error) {
	if opts.Dir == "" {
		opts.Dir = config.DefaultRecordingDir
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = config.DefaultRecordingQueueSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = config.DefaultRecordingFlush
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	return &Recorder{
		opts:  opts,
		queue: buffer.New[Record](opts.QueueSize),
	}, nil
}

// RecordFrame queues a frame. It never blocks.
func (r *Recorder) RecordFrame(sessionID string, seq uint64, at time.Time, f wire.Frame) {
	if r.closed.Load() {
		return
	}
	rec := Record{SessionID: sessionID, Seq: seq, ReceivedAt: at, Frame: f}
	if r.queue.PushOverwrite(rec) {
		r.opts.Metrics.RowDropped()
	}
}

// Run flushes the queue every FlushInterval until ctx is done, then
// flushes the rest and closes the open file.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	log.Info("recorder started", "dir", r.opts.Dir)

	for {
		select {
		case <-ctx.Done():
			return r.Close()
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				log.Error("flush failed", "error", err)
			}
		}
	}
}

// Flush writes all queued frames.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	for {
		recs := r.queue.PopN(flushBatch)
		if len(recs) == 0 {
			return nil
		}

		// Split the batch at session boundaries.
		start := 0
		for i := 1; i <= len(recs); i++ {
			if i < len(recs) && recs[i].SessionID == recs[start].SessionID {
				continue
			}
			if err := r.writeLocked(recs[start:i]); err != nil {
				return err
			}
			start = i
		}
	}
}

func (r *Recorder) writeLocked(recs []Record) error {
	id := recs[0].SessionID
	if r.writer == nil || id != r.sessionID {
		if err := r.rotateLocked(id, recs[0].ReceivedAt); err != nil {
			return err
		}
	}

	rows := make([]parquet.FrameRow, len(recs))
	for i := range recs {
		rows[i] = parquet.NewFrameRow(recs[i].SessionID, recs[i].Seq, recs[i].ReceivedAt, recs[i].Frame)
	}
	if err := r.writer.Write(rows); err != nil {
		return errors.Wrapf(err, "write %s", r.writer.Path())
	}
	r.opts.Metrics.RowsWritten(len(rows))
	return nil
}

func (r *Recorder) rotateLocked(sessionID string, at time.Time) error {
	if err := r.closeWriterLocked(); err != nil {
		log.Error("failed to close recording", "error", err)
	}

	path := filepath.Join(r.opts.Dir, FileName(sessionID, at))
	w, err := parquet.NewFrameWriter(path, parquet.Options{Compression: r.opts.Compression})
	if err != nil {
		return errors.Wrap(err, "open recording")
	}

	r.writer = w
	r.sessionID = sessionID
	log.Info("recording started", "session_id", sessionID, "path", path)
	return nil
}

func (r *Recorder) closeWriterLocked() error {
	if r.writer == nil {
		return nil
	}
	w := r.writer
	r.writer = nil

	if err := w.Close(); err != nil {
		return err
	}
	r.files = append(r.files, w.Path())
	r.opts.Metrics.FileClosed()
	log.Info("recording closed", "path", w.Path(), "rows", w.RowCount())
	return nil
}

// Close flushes queued frames and closes the open file. Frames recorded
// afterwards are ignored.
func (r *Recorder) Close() error {
	r.closed.Store(true)

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.flushLocked()
	if cerr := r.closeWriterLocked(); err == nil {
		err = cerr
	}
	return err
}

// Files returns the paths of completed recordings.
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

// Pending returns the number of queued frames.
func (r *Recorder) Pending() int {
	return r.queue.Len()
}

// ActiveFile returns the path of the file being written, or "".
func (r *Recorder) ActiveFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return ""
	}
	return r.writer.Path()
}

// fileTimeLayout is the timestamp layout inside recording file names.
const fileTimeLayout = "20060102T150405"

// ParseFileName returns the start time encoded in a recording file name.
func ParseFileName(name string) (time.Time, error) {
	base := strings.TrimSuffix(filepath.Base(name), ".parquet")
	rest, ok := strings.CutPrefix(base, "frames-")
	if !ok || len(rest) < len(fileTimeLayout) {
		return time.Time{}, fmt.Errorf("not a recording: %s", name)
	}
	return time.Parse(fileTimeLayout, rest[:len(fileTimeLayout)])
}

// FileName returns the recording file name for a session.
func FileName(sessionID string, at time.Time) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("frames-%s-%s.parquet", at.UTC().Format(fileTimeLayout), short)
}
