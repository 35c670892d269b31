// powerscoped is the waveform acquisition daemon.
//
// It accepts one instrument connection at a time, runs the control and
// frame exchange, keeps triggered windows of all six channels and serves
// them over HTTP, websocket and an optional protobuf stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/powerscope/config"
	"github.com/xtxerr/powerscope/internal/control"
	"github.com/xtxerr/powerscope/internal/feed"
	"github.com/xtxerr/powerscope/internal/instrument"
	"github.com/xtxerr/powerscope/internal/loader"
	"github.com/xtxerr/powerscope/internal/logging"
	"github.com/xtxerr/powerscope/internal/measure"
	"github.com/xtxerr/powerscope/internal/metrics"
	"github.com/xtxerr/powerscope/internal/server"
	"github.com/xtxerr/powerscope/internal/storage/query"
	"github.com/xtxerr/powerscope/internal/storage/recorder"
	"github.com/xtxerr/powerscope/internal/storage/retention"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("main")

func main() {
	// CLI flags
	cfgPath := flag.String("config", "powerscope.yaml", "config file path")
	listen := flag.String("listen", "", "instrument listen address (overrides config)")
	httpAddr := flag.String("http", "", "HTTP feed address (overrides config)")
	record := flag.String("record", "", "record frames into this directory (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	summary := flag.String("summary", "", "print a summary of recordings matching this glob and exit")
	simulate := flag.Bool("simulate", false, "connect a simulated instrument")
	flag.Parse()

	if *summary != "" {
		if err := printSummary(*summary); err != nil {
			fmt.Fprintf(os.Stderr, "summary: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// CLI overrides
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *httpAddr != "" {
		cfg.Feed.Listen = *httpAddr
	}
	if *record != "" {
		cfg.Recording.Enabled = true
		cfg.Recording.Dir = *record
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := loader.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogLevel(), cfg.Logging.JSON)
	log.Info("powerscoped starting", "version", Version, "config", *cfgPath)

	if err := run(cfg, *simulate); err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
	log.Info("stopped")
}

func run(cfg *loader.Config, simulate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewCollector()
	ctrl := control.NewStore(cfg.InitialControl())
	tracker := measure.NewTracker(cfg.MeasureOptions())

	srvCfg := server.Config{
		Listen:    cfg.Listen,
		Relisten:  cfg.Session.Relisten,
		Order:     cfg.ByteOrder(),
		IOTimeout: cfg.IOTimeout(),
		Scope:     cfg.ScopeOptions(),
		Control:   ctrl,
		Measure:   tracker,
		Metrics:   m,
	}

	var rec *recorder.Recorder
	if cfg.Recording.Enabled {
		var err error
		rec, err = recorder.New(recorder.Options{
			Dir:           cfg.Recording.Dir,
			Compression:   cfg.Compression(),
			QueueSize:     cfg.Recording.QueueSize,
			FlushInterval: cfg.RecordingFlush(),
			Metrics:       m,
		})
		if err != nil {
			return fmt.Errorf("create recorder: %w", err)
		}
		srvCfg.Recorder = rec
	}

	srv := server.New(srvCfg)
	if err := srv.Listen(); err != nil {
		return err
	}

	fd := feed.New(feed.Config{
		Listen:         cfg.Feed.Listen,
		StreamListen:   cfg.Feed.StreamListen,
		Refresh:        cfg.FeedRefresh(),
		History:        cfg.Feed.History,
		SendBufferSize: cfg.Feed.SendBufferSize,
		Source:         srv,
		Control:        ctrl,
		Measure:        tracker,
		Metrics:        m,
	})
	if err := fd.Listen(); err != nil {
		srv.Shutdown()
		return err
	}

	// Everything stops when the server stops: on a signal, on a fatal
	// error, or after the only session when relisten is off.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return srv.Run(gctx)
	})

	g.Go(func() error {
		return fd.Run(gctx)
	})

	if rec != nil {
		g.Go(func() error {
			return rec.Run(gctx)
		})

		ret := retention.New(retention.Options{
			Dir:      cfg.Recording.Dir,
			MaxAge:   cfg.RecordingMaxAge(),
			MaxFiles: cfg.Recording.MaxFiles,
			Interval: config.DefaultRetentionInterval,
			Active:   rec.ActiveFile,
		})
		if ret.Enabled() {
			log.Info("recording retention enabled", "dir", cfg.Recording.Dir, "usage", ret.DiskUsage().String())
		}
		g.Go(func() error {
			return ret.Run(gctx)
		})
	}

	if simulate {
		sim := instrument.New(instrument.Config{
			Addr:     srv.Addr().String(),
			Order:    cfg.ByteOrder(),
			Interval: 200 * time.Microsecond,
		})
		g.Go(func() error {
			if err := sim.Run(gctx); err != nil {
				log.Warn("simulated instrument stopped", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if rec != nil {
		for _, f := range rec.Files() {
			log.Info("recording written", "file", f)
		}
	}
	return err
}

// printSummary prints per-channel and per-session statistics of recorded
// frames.
func printSummary(pattern string) error {
	if info, err := os.Stat(pattern); err == nil && info.IsDir() {
		pattern = filepath.Join(pattern, "*.parquet")
	}

	svc, err := query.New()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := context.Background()

	sessions, err := svc.Sessions(ctx, pattern)
	if err != nil {
		return err
	}
	fmt.Printf("%-36s  %10s  %-23s  %-23s\n", "SESSION", "FRAMES", "FIRST", "LAST")
	for _, s := range sessions {
		fmt.Printf("%-36s  %10d  %-23s  %-23s\n", s.SessionID, s.Frames,
			s.First.Format("2006-01-02 15:04:05.000"), s.Last.Format("2006-01-02 15:04:05.000"))
	}
	fmt.Println()

	channels, err := svc.Summarize(ctx, pattern)
	if err != nil {
		return err
	}
	fmt.Printf("%-7s  %10s  %12s  %12s  %12s  %12s  %10s\n",
		"CHANNEL", "FRAMES", "MIN", "MAX", "MEAN", "RMS", "F0 (Hz)")
	for _, c := range channels {
		fmt.Printf("%-7s  %10d  %12.5g  %12.5g  %12.5g  %12.5g  %10.4f\n",
			c.Channel, c.Frames, c.Min, c.Max, c.Mean, c.RMS, c.MeanFrequency)
	}
	return nil
}
