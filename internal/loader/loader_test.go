package loader

import (
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/powerscope/config"
	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/scope"
	"github.com/xtxerr/powerscope/internal/storage/parquet"
	"github.com/xtxerr/powerscope/internal/wire"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.Listen != config.DefaultListenAddress {
		t.Errorf("expected listen %s, got %s", config.DefaultListenAddress, cfg.Listen)
	}
	opts := cfg.ScopeOptions()
	if opts.WindowSize != 100 || opts.MaxBufferLength != 10000 {
		t.Errorf("unexpected scope options %+v", opts)
	}
	if cfg.ByteOrder() != binary.LittleEndian {
		t.Error("expected little endian by default")
	}
	if !cfg.Session.Relisten {
		t.Error("expected relisten by default")
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scope.WindowSize != config.DefaultWindowSize {
		t.Errorf("expected default window size, got %d", cfg.Scope.WindowSize)
	}

	cfg, err = Load("")
	if err != nil || cfg == nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("POWERSCOPE_TEST_DIR", "/tmp/rec")

	yaml := `
listen: "0.0.0.0:26000"
wire:
  byte_order: big
  io_timeout_ms: 250
scope:
  window_size: 50
  max_buffer_length: 2000
  thresholds:
    V1: 0.5
    i3: -1
session:
  relisten: false
control:
  initial: [1, 2, 3, 4, 5, 6]
feed:
  listen: ""
  refresh_ms: 40
  history: true
measure:
  bucket_ms: 500
recording:
  enabled: true
  dir: ${POWERSCOPE_TEST_DIR}
  compression: snappy
  max_age_hours: 72
  max_files: 20
logging:
  level: debug
  json: true
`
	path := filepath.Join(t.TempDir(), "powerscope.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Listen != "0.0.0.0:26000" {
		t.Errorf("unexpected listen %s", cfg.Listen)
	}
	if cfg.ByteOrder() != binary.BigEndian {
		t.Error("expected big endian")
	}
	if cfg.IOTimeout() != 250*time.Millisecond {
		t.Errorf("expected 250ms timeout, got %v", cfg.IOTimeout())
	}

	opts := cfg.ScopeOptions()
	if opts.WindowSize != 50 || opts.MaxBufferLength != 2000 {
		t.Errorf("unexpected scope options %+v", opts)
	}
	if opts.Threshold(scope.V1) != 0.5 || opts.Threshold(scope.I3) != -1 || opts.Threshold(scope.V2) != 0 {
		t.Errorf("unexpected thresholds %v", opts.Thresholds)
	}

	if cfg.Session.Relisten {
		t.Error("expected relisten disabled")
	}
	if got := cfg.InitialControl(); got != (wire.ControlVector{1, 2, 3, 4, 5, 6}) {
		t.Errorf("unexpected initial control %v", got)
	}
	if cfg.Feed.Listen != "" || !cfg.Feed.History || cfg.FeedRefresh() != 40*time.Millisecond {
		t.Errorf("unexpected feed config %+v", cfg.Feed)
	}
	if cfg.Feed.SendBufferSize != config.DefaultFeedSendBufferSize {
		t.Errorf("expected default send buffer, got %d", cfg.Feed.SendBufferSize)
	}
	if cfg.MeasureOptions().Bucket != 500*time.Millisecond {
		t.Errorf("unexpected bucket %v", cfg.MeasureOptions().Bucket)
	}
	if cfg.Recording.Dir != "/tmp/rec" {
		t.Errorf("expected env expansion, got %q", cfg.Recording.Dir)
	}
	if cfg.Compression() != parquet.CompressionSnappy {
		t.Errorf("expected snappy, got %v", cfg.Compression())
	}
	if cfg.RecordingMaxAge() != 72*time.Hour || cfg.Recording.MaxFiles != 20 {
		t.Errorf("unexpected retention %v / %d", cfg.RecordingMaxAge(), cfg.Recording.MaxFiles)
	}
	if cfg.RecordingFlush() != config.DefaultRecordingFlush {
		t.Errorf("expected default flush, got %v", cfg.RecordingFlush())
	}
	if cfg.LogLevel() != slog.LevelDebug || !cfg.Logging.JSON {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("scope: [unterminated")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = ""
	cfg.Wire.ByteOrder = "middle"
	cfg.Scope.WindowSize = 100
	cfg.Scope.MaxBufferLength = 10
	cfg.Scope.Thresholds = map[string]float64{"V9": 1}
	cfg.Control.Initial = []float64{1, 2}
	cfg.Recording.Enabled = true
	cfg.Recording.Compression = "brotli"
	cfg.Logging.Level = "loud"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	msg := err.Error()
	for _, field := range []string{
		"listen",
		"wire.byte_order",
		"scope.max_buffer_length",
		"scope.thresholds",
		"control.initial",
		"recording.compression",
		"logging.level",
	} {
		if !strings.Contains(msg, field) {
			t.Errorf("expected %s in %q", field, msg)
		}
	}
}

func TestValidateMissingFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Recording.Enabled = true
	cfg.Recording.Dir = ""

	err := Validate(cfg)
	if !errors.Is(err, errors.ErrMissingField) {
		t.Fatalf("expected missing field error, got %v", err)
	}
	if !strings.Contains(err.Error(), "recording.dir") {
		t.Errorf("expected recording.dir in %q", err.Error())
	}

	cfg = DefaultConfig()
	cfg.Listen = ""
	if err := Validate(cfg); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected missing listen, got %v", err)
	}
}
