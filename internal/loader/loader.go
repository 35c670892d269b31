// Package loader handles configuration file loading and validation.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating the result
//   - Converting between YAML and internal representations
package loader

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/logging"
	"github.com/xtxerr/powerscope/internal/measure"
	"github.com/xtxerr/powerscope/internal/scope"
	"github.com/xtxerr/powerscope/internal/storage/parquet"
	"github.com/xtxerr/powerscope/internal/wire"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. An empty path or a file that
// does not exist yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration on top of the defaults. Environment
// variables are expanded first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	if cfg.Listen == "" {
		errs.AddMissing("listen")
	}

	// Wire
	if _, err := wire.ParseByteOrder(cfg.Wire.ByteOrder); err != nil {
		errs.Add(err)
	}
	if cfg.Wire.IOTimeoutMs < 0 {
		errs.AddField("wire.io_timeout_ms", "cannot be negative")
	}

	// Scope
	if cfg.Scope.WindowSize <= 0 {
		errs.AddField("scope.window_size", "must be positive")
	}
	if cfg.Scope.MaxBufferLength < cfg.Scope.WindowSize {
		errs.AddField("scope.max_buffer_length", "must be at least scope.window_size")
	}
	if !finite(cfg.Scope.DefaultThreshold) {
		errs.AddField("scope.default_threshold", "must be finite")
	}
	for name, v := range cfg.Scope.Thresholds {
		if _, err := scope.ParseChannel(name); err != nil {
			errs.Add(errors.NewInvalidValue("scope.thresholds", name, "unknown channel"))
			continue
		}
		if !finite(v) {
			errs.AddField(fmt.Sprintf("scope.thresholds.%s", name), "must be finite")
		}
	}

	// Control
	if n := len(cfg.Control.Initial); n != 0 && n != wire.ControlFields {
		errs.Add(errors.NewInvalidValue("control.initial", n, "must hold 6 values"))
	}
	for i, v := range cfg.Control.Initial {
		if !finite(v) {
			errs.AddField(fmt.Sprintf("control.initial[%d]", i), "must be finite")
		}
	}

	// Feed
	if cfg.Feed.RefreshMs <= 0 {
		errs.AddField("feed.refresh_ms", "must be positive")
	}
	if cfg.Feed.SendBufferSize < 0 {
		errs.AddField("feed.send_buffer_size", "cannot be negative")
	}

	// Measure
	if cfg.Measure.BucketMs <= 0 {
		errs.AddField("measure.bucket_ms", "must be positive")
	}

	// Recording (if enabled)
	if cfg.Recording.Enabled {
		if cfg.Recording.Dir == "" {
			errs.AddMissing("recording.dir")
		}
		if _, err := parquet.ParseCompressionType(cfg.Recording.Compression); err != nil {
			errs.Add(err)
		}
		if cfg.Recording.QueueSize <= 0 {
			errs.AddField("recording.queue_size", "must be positive")
		}
		if cfg.Recording.FlushMs <= 0 {
			errs.AddField("recording.flush_ms", "must be positive")
		}
		if cfg.Recording.MaxAgeHours < 0 {
			errs.AddField("recording.max_age_hours", "cannot be negative")
		}
		if cfg.Recording.MaxFiles < 0 {
			errs.AddField("recording.max_files", "cannot be negative")
		}
	}

	// Logging
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.Add(errors.NewInvalidValue("logging.level", cfg.Logging.Level, "must be debug, info, warn or error"))
	}

	return errs.Err()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// =============================================================================
// Conversion: Config → internal options
// =============================================================================

// ByteOrder returns the configured wire byte order.
func (c *Config) ByteOrder() binary.ByteOrder {
	order, err := wire.ParseByteOrder(c.Wire.ByteOrder)
	if err != nil {
		return binary.LittleEndian
	}
	return order
}

// IOTimeout returns the configured per-operation timeout.
func (c *Config) IOTimeout() time.Duration {
	return time.Duration(c.Wire.IOTimeoutMs) * time.Millisecond
}

// ScopeOptions converts the scope section. Unknown channel names are
// skipped; Validate reports them.
func (c *Config) ScopeOptions() scope.Options {
	opts := scope.Options{
		WindowSize:       c.Scope.WindowSize,
		MaxBufferLength:  c.Scope.MaxBufferLength,
		DefaultThreshold: c.Scope.DefaultThreshold,
	}
	if len(c.Scope.Thresholds) > 0 {
		opts.Thresholds = make(map[scope.Channel]float64, len(c.Scope.Thresholds))
		for name, v := range c.Scope.Thresholds {
			if ch, err := scope.ParseChannel(name); err == nil {
				opts.Thresholds[ch] = v
			}
		}
	}
	return opts
}

// InitialControl returns the initial control vector.
func (c *Config) InitialControl() wire.ControlVector {
	var v wire.ControlVector
	copy(v[:], c.Control.Initial)
	return v
}

// MeasureOptions converts the measure section.
func (c *Config) MeasureOptions() measure.Options {
	return measure.Options{
		Bucket:      time.Duration(c.Measure.BucketMs) * time.Millisecond,
		Percentiles: c.Measure.Percentiles,
	}
}

// FeedRefresh returns the subscriber push interval.
func (c *Config) FeedRefresh() time.Duration {
	return time.Duration(c.Feed.RefreshMs) * time.Millisecond
}

// Compression returns the recording codec.
func (c *Config) Compression() parquet.CompressionType {
	ct, err := parquet.ParseCompressionType(c.Recording.Compression)
	if err != nil {
		return parquet.CompressionZstd
	}
	return ct
}

// RecordingFlush returns the recorder flush interval.
func (c *Config) RecordingFlush() time.Duration {
	return time.Duration(c.Recording.FlushMs) * time.Millisecond
}

// RecordingMaxAge returns the age after which recordings are removed.
func (c *Config) RecordingMaxAge() time.Duration {
	return time.Duration(c.Recording.MaxAgeHours) * time.Hour
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() slog.Level {
	lvl, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}
