// Package loader - Configuration Types
//
// Defines the YAML configuration structure for powerscoped.
//
//	listen:      where the instrument connects
//	wire:        byte order and I/O timeout of the instrument protocol
//	scope:       trigger window, compaction bound, per-channel thresholds
//	session:     behaviour after a session ends
//	control:     initial control vector
//	feed:        HTTP, websocket and stream surface
//	measure:     frequency readout buckets
//	recording:   Parquet recording of received frames
//	logging:     level and format
package loader

import (
	"github.com/xtxerr/powerscope/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for powerscoped.
type Config struct {
	// Listen is the address the instrument connects to.
	// Format: "host:port" or ":port"
	// Default: "127.0.0.1:25000"
	Listen string `yaml:"listen"`

	Wire      WireConfig      `yaml:"wire"`
	Scope     ScopeConfig     `yaml:"scope"`
	Session   SessionConfig   `yaml:"session"`
	Control   ControlConfig   `yaml:"control"`
	Feed      FeedConfig      `yaml:"feed"`
	Measure   MeasureConfig   `yaml:"measure"`
	Recording RecordingConfig `yaml:"recording"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// =============================================================================
// Acquisition
// =============================================================================

// WireConfig configures the instrument protocol.
type WireConfig struct {
	// ByteOrder of the doubles on the wire: "little" or "big".
	ByteOrder string `yaml:"byte_order"`

	// IOTimeoutMs bounds one send or receive. 0 waits forever.
	IOTimeoutMs int `yaml:"io_timeout_ms"`
}

// ScopeConfig configures the trigger and buffers.
type ScopeConfig struct {
	// WindowSize is the number of samples a trigger window spans.
	WindowSize int `yaml:"window_size"`

	// MaxBufferLength is the buffer length that triggers compaction.
	// Must be at least WindowSize.
	MaxBufferLength int `yaml:"max_buffer_length"`

	// DefaultThreshold applies to channels without an entry in Thresholds.
	DefaultThreshold float64 `yaml:"default_threshold"`

	// Thresholds maps channel names (V1..I3) to trigger thresholds.
	Thresholds map[string]float64 `yaml:"thresholds"`
}

// SessionConfig configures the session lifecycle.
type SessionConfig struct {
	// Relisten accepts a new instrument after a session ends.
	Relisten bool `yaml:"relisten"`
}

// ControlConfig configures the control vector.
type ControlConfig struct {
	// Initial holds the six values sent before anything sets them.
	// Empty means all zeros.
	Initial []float64 `yaml:"initial"`
}

// =============================================================================
// Readers
// =============================================================================

// FeedConfig configures the HTTP and stream surface.
type FeedConfig struct {
	// Listen is the HTTP address. Empty disables HTTP.
	Listen string `yaml:"listen"`

	// StreamListen is the TCP address of the protobuf snapshot stream.
	// Empty disables it.
	StreamListen string `yaml:"stream_listen"`

	// RefreshMs is the push interval for subscribers.
	RefreshMs int `yaml:"refresh_ms"`

	// History pushes whole buffers instead of trigger windows.
	History bool `yaml:"history"`

	// SendBufferSize is the per-subscriber queue capacity.
	SendBufferSize int `yaml:"send_buffer_size"`
}

// MeasureConfig configures the frequency readout.
type MeasureConfig struct {
	// BucketMs is the period of one summary.
	BucketMs int `yaml:"bucket_ms"`

	// Percentiles enables p50/p90/p99 per channel.
	Percentiles bool `yaml:"percentiles"`
}

// RecordingConfig configures frame recording.
type RecordingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir receives one Parquet file per session.
	Dir string `yaml:"dir"`

	// Compression: zstd, snappy, gzip, lz4 or none.
	Compression string `yaml:"compression"`

	// QueueSize is the capacity of the frame queue. When full the oldest
	// queued frame is dropped.
	QueueSize int `yaml:"queue_size"`

	// FlushMs is how often queued frames are written.
	FlushMs int `yaml:"flush_ms"`

	// MaxAgeHours removes recordings older than this. 0 keeps them.
	MaxAgeHours int `yaml:"max_age_hours"`

	// MaxFiles keeps at most this many recordings. 0 means no limit.
	MaxFiles int `yaml:"max_files"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level: debug, info, warn or error.
	Level string `yaml:"level"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return &Config{
		Listen: config.DefaultListenAddress,

		Wire: WireConfig{
			ByteOrder:   config.DefaultByteOrder,
			IOTimeoutMs: config.DefaultIOTimeoutMs,
		},

		Scope: ScopeConfig{
			WindowSize:       config.DefaultWindowSize,
			MaxBufferLength:  config.DefaultMaxBufferLength,
			DefaultThreshold: config.DefaultTriggerThreshold,
		},

		Session: SessionConfig{
			Relisten: config.DefaultRelisten,
		},

		Feed: FeedConfig{
			Listen:         config.DefaultFeedListen,
			RefreshMs:      int(config.DefaultFeedRefresh.Milliseconds()),
			SendBufferSize: config.DefaultFeedSendBufferSize,
		},

		Measure: MeasureConfig{
			BucketMs:    int(config.DefaultMeasureBucket.Milliseconds()),
			Percentiles: true,
		},

		Recording: RecordingConfig{
			Enabled:     false,
			Dir:         config.DefaultRecordingDir,
			Compression: config.DefaultRecordingCompression,
			QueueSize:   config.DefaultRecordingQueueSize,
			FlushMs:     int(config.DefaultRecordingFlush.Milliseconds()),
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
