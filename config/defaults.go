// Package config provides configuration defaults for powerscope.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command line flags.
package config

import "time"

// =============================================================================
// Acquisition Defaults
// =============================================================================

const (
	// DefaultListenAddress is where the instrument connects.
	// Override via config: listen
	DefaultListenAddress = "127.0.0.1:25000"

	// DefaultByteOrder is the byte order of doubles on the wire.
	// The instrument sends native doubles from a little-endian host.
	// Override via config: wire.byte_order
	DefaultByteOrder = "little"

	// DefaultIOTimeoutMs bounds a single send or receive. 0 disables the
	// deadline and the exchange blocks until the peer answers or the
	// session is cancelled.
	// Override via config: wire.io_timeout_ms
	DefaultIOTimeoutMs = 0

	// DefaultRelisten re-enters listening after a session closes.
	// Override via config: session.relisten
	DefaultRelisten = true
)

// =============================================================================
// Scope Defaults
// =============================================================================

const (
	// DefaultWindowSize is the number of samples a trigger window spans.
	// Override via config: scope.window_size
	DefaultWindowSize = 100

	// DefaultMaxBufferLength is the buffer length that triggers compaction.
	// Override via config: scope.max_buffer_length
	DefaultMaxBufferLength = 10000

	// DefaultTriggerThreshold applies to every channel without an override.
	// Override via config: scope.thresholds.<channel>
	DefaultTriggerThreshold = 0.0
)

// =============================================================================
// Feed Defaults
// =============================================================================

const (
	// DefaultFeedListen is the HTTP address for snapshots, websocket and metrics.
	// Empty disables the HTTP surface.
	// Override via config: feed.listen
	DefaultFeedListen = "127.0.0.1:8080"

	// DefaultFeedRefresh is how often snapshots are pushed to subscribers.
	// Override via config: feed.refresh_ms
	DefaultFeedRefresh = 100 * time.Millisecond

	// DefaultFeedSendBufferSize is the capacity of the per-subscriber queue.
	// When full, snapshots for that subscriber are dropped.
	DefaultFeedSendBufferSize = 16

	// DefaultMaxMessageSize limits a single streamed snapshot.
	DefaultMaxMessageSize = 16 * 1024 * 1024
)

// =============================================================================
// Measurement Defaults
// =============================================================================

const (
	// DefaultMeasureBucket is the period of one frequency summary.
	// Override via config: measure.bucket_ms
	DefaultMeasureBucket = 2 * time.Second

	// DefaultMeasureAccuracy is the relative accuracy of percentile sketches.
	DefaultMeasureAccuracy = 0.01
)

// =============================================================================
// Recording Defaults
// =============================================================================

const (
	// DefaultRecordingDir is where recorded frames are written.
	// Override via config: recording.dir
	DefaultRecordingDir = "recordings"

	// DefaultRecordingCompression is the Parquet codec for recordings.
	// Override via config: recording.compression
	DefaultRecordingCompression = "zstd"

	// DefaultRecordingQueueSize is the capacity of the frame queue between
	// the session and the recorder. When full, the oldest frame is dropped.
	// Override via config: recording.queue_size
	DefaultRecordingQueueSize = 65536

	// DefaultRecordingFlush is how often queued frames are written.
	// Override via config: recording.flush_ms
	DefaultRecordingFlush = 500 * time.Millisecond

	// DefaultRetentionInterval is how often expired recordings are removed.
	// Limits are off unless recording.max_age_hours or recording.max_files
	// is set.
	DefaultRetentionInterval = time.Minute
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout bounds the HTTP server shutdown.
	DefaultDrainTimeout = 5 * time.Second
)
