// Package metrics exposes Prometheus metrics for powerscope.
//
// All methods are safe on a nil *Collector so components can run without
// metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "powerscope"

// Collector manages all Prometheus metrics of the process.
type Collector struct {
	registry *prometheus.Registry

	// Acquisition
	frames        prometheus.Counter
	bytesIn       prometheus.Counter
	bytesOut      prometheus.Counter
	applyDuration prometheus.Histogram
	bufferLength  prometheus.Gauge
	frequency     *prometheus.GaugeVec

	// Compaction
	compactions      prometheus.Counter
	trimmed          prometheus.Counter
	compactionStalls prometheus.Counter

	// Sessions
	sessions      prometheus.Counter
	sessionErrors *prometheus.CounterVec
	peersRejected prometheus.Counter
	phase         *prometheus.GaugeVec

	// Feed
	subscribers      prometheus.Gauge
	snapshotsSent    prometheus.Counter
	snapshotsDropped prometheus.Counter

	// Recording
	rowsWritten  prometheus.Counter
	rowsDropped  prometheus.Counter
	filesWritten prometheus.Counter
}

// NewCollector creates a collector on its own registry, including the Go
// runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	c := &Collector{registry: reg}

	c.frames = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Measurement frames received and applied",
	})
	c.bytesIn = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_received_total",
		Help:      "Bytes received from the instrument",
	})
	c.bytesOut = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_sent_total",
		Help:      "Bytes sent to the instrument",
	})
	c.applyDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "frame_apply_seconds",
		Help:      "Time the state write lock is held per frame",
		Buckets:   []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3},
	})
	c.bufferLength = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_length",
		Help:      "Samples held per channel",
	})
	c.frequency = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channel_frequency_hertz",
		Help:      "Last fundamental frequency estimate per channel",
	}, []string{"channel"})

	c.compactions = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compactions_total",
		Help:      "Buffer compactions",
	})
	c.trimmed = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_trimmed_total",
		Help:      "Samples removed per channel by compaction",
	})
	c.compactionStalls = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compaction_stalls_total",
		Help:      "Frames over the buffer limit where nothing could be trimmed",
	})

	c.sessions = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Acquisition sessions started",
	})
	c.sessionErrors = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_errors_total",
		Help:      "Sessions ended by an error, by error kind",
	}, []string{"kind"})
	c.peersRejected = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "peers_rejected_total",
		Help:      "Connections refused because a session was active",
	})
	c.phase = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_phase",
		Help:      "1 for the current acquisition phase",
	}, []string{"phase"})

	c.subscribers = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_subscribers",
		Help:      "Connected snapshot subscribers",
	})
	c.snapshotsSent = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_snapshots_sent_total",
		Help:      "Snapshots delivered to subscribers",
	})
	c.snapshotsDropped = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_snapshots_dropped_total",
		Help:      "Snapshots dropped for slow subscribers",
	})

	c.rowsWritten = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recorder_rows_total",
		Help:      "Frames written to recordings",
	})
	c.rowsDropped = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recorder_dropped_total",
		Help:      "Frames dropped because the recorder queue was full",
	})
	c.filesWritten = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recorder_files_total",
		Help:      "Recording files closed",
	})

	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns the /metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// FrameApplied records one applied frame.
func (c *Collector) FrameApplied(length int, took time.Duration) {
	if c == nil {
		return
	}
	c.frames.Inc()
	c.bufferLength.Set(float64(length))
	c.applyDuration.Observe(took.Seconds())
}

// Compacted records a compaction that removed n samples per channel.
func (c *Collector) Compacted(n int) {
	if c == nil {
		return
	}
	c.compactions.Inc()
	c.trimmed.Add(float64(n))
}

// CompactionStalled records a frame over the limit with nothing to trim.
func (c *Collector) CompactionStalled() {
	if c == nil {
		return
	}
	c.compactionStalls.Inc()
}

// AddBytes records transferred bytes.
func (c *Collector) AddBytes(in, out int64) {
	if c == nil {
		return
	}
	if in > 0 {
		c.bytesIn.Add(float64(in))
	}
	if out > 0 {
		c.bytesOut.Add(float64(out))
	}
}

// SetFrequency records the latest estimate for a channel.
func (c *Collector) SetFrequency(channel string, hz float64) {
	if c == nil {
		return
	}
	c.frequency.WithLabelValues(channel).Set(hz)
}

// SessionStarted records a new acquisition session.
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessions.Inc()
}

// SessionEnded records how a session ended. kind is "none" for a clean end.
func (c *Collector) SessionEnded(kind string) {
	if c == nil || kind == "none" {
		return
	}
	c.sessionErrors.WithLabelValues(kind).Inc()
}

// PeerRejected records a refused connection.
func (c *Collector) PeerRejected() {
	if c == nil {
		return
	}
	c.peersRejected.Inc()
}

// SetPhase marks phase as current and every other phase as inactive.
func (c *Collector) SetPhase(phase string) {
	if c == nil {
		return
	}
	c.phase.Reset()
	c.phase.WithLabelValues(phase).Set(1)
}

// SetSubscribers records the number of feed subscribers.
func (c *Collector) SetSubscribers(n int) {
	if c == nil {
		return
	}
	c.subscribers.Set(float64(n))
}

// SnapshotSent records a delivered snapshot.
func (c *Collector) SnapshotSent() {
	if c == nil {
		return
	}
	c.snapshotsSent.Inc()
}

// SnapshotDropped records a snapshot dropped for a slow subscriber.
func (c *Collector) SnapshotDropped() {
	if c == nil {
		return
	}
	c.snapshotsDropped.Inc()
}

// RowsWritten records frames flushed to a recording.
func (c *Collector) RowsWritten(n int) {
	if c == nil {
		return
	}
	c.rowsWritten.Add(float64(n))
}

// RowDropped records a frame lost to a full recorder queue.
func (c *Collector) RowDropped() {
	if c == nil {
		return
	}
	c.rowsDropped.Inc()
}

// FileClosed records a finished recording file.
func (c *Collector) FileClosed() {
	if c == nil {
		return
	}
	c.filesWritten.Inc()
}
