// Package feed serves the acquisition state to renderers and tools.
//
// It owns the HTTP surface (JSON snapshots, measurements, runtime control,
// Prometheus metrics and a websocket push of snapshots) and an optional
// TCP stream of length-delimited protobuf snapshots. All of it reads the
// scope state through its locking accessors; nothing here blocks the
// acquisition loop.
package feed

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/powerscope/config"
	"github.com/xtxerr/powerscope/internal/control"
	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/logging"
	"github.com/xtxerr/powerscope/internal/measure"
	"github.com/xtxerr/powerscope/internal/metrics"
	"github.com/xtxerr/powerscope/internal/scope"
	"github.com/xtxerr/powerscope/internal/session"
)

var log = logging.Component("feed")

// Source is the acquisition side the feed reads from. *server.Server
// implements it.
type Source interface {
	State() *scope.State
	Phase() session.Phase
	Session() *session.Session
	Sessions() uint64
	SetThreshold(ch scope.Channel, v float64) error
}

// Config holds feed configuration.
type Config struct {
	// Listen is the HTTP address. Empty disables the HTTP surface.
	Listen string

	// StreamListen is the TCP address of the protobuf stream. Empty
	// disables it.
	StreamListen string

	// Refresh is the push interval for subscribers.
	Refresh time.Duration

	// History pushes whole buffers instead of trigger windows.
	History bool

	// SendBufferSize is the per-subscriber queue capacity.
	SendBufferSize int

	Source  Source
	Control *control.Store
	Measure *measure.Tracker
	Metrics *metrics.Collector
}

// Feed serves snapshots over HTTP, websocket and TCP.
type Feed struct {
	cfg  Config
	mode scope.Mode
	hub  *hub

	// Concurrent snapshot requests for the same mode share one copy.
	group singleflight.Group

	mu       sync.Mutex
	httpLn   net.Listener
	streamLn net.Listener
}

// New creates a feed.
func New(cfg Config) *Feed {
	if cfg.Refresh <= 0 {
		cfg.Refresh = config.DefaultFeedRefresh
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = config.DefaultFeedSendBufferSize
	}

	mode := scope.ModeWindow
	if cfg.History {
		mode = scope.ModeHistory
	}

	return &Feed{
		cfg:  cfg,
		mode: mode,
		hub:  newHub(cfg.Metrics),
	}
}

// Listen binds the configured addresses. Run calls it if needed.
func (f *Feed) Listen() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cfg.Listen != "" && f.httpLn == nil {
		ln, err := net.Listen("tcp", f.cfg.Listen)
		if err != nil {
			return errors.Wrap(err, "listen http")
		}
		f.httpLn = ln
		log.Info("http feed listening", "address", ln.Addr().String())
	}

	if f.cfg.StreamListen != "" && f.streamLn == nil {
		ln, err := net.Listen("tcp", f.cfg.StreamListen)
		if err != nil {
			return errors.Wrap(err, "listen stream")
		}
		f.streamLn = ln
		log.Info("snapshot stream listening", "address", ln.Addr().String())
	}
	return nil
}

// HTTPAddr returns the bound HTTP address, or nil.
func (f *Feed) HTTPAddr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.httpLn == nil {
		return nil
	}
	return f.httpLn.Addr()
}

// StreamAddr returns the bound stream address, or nil.
func (f *Feed) StreamAddr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamLn == nil {
		return nil
	}
	return f.streamLn.Addr()
}

// Run serves until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	if err := f.Listen(); err != nil {
		return err
	}

	f.mu.Lock()
	httpLn, streamLn := f.httpLn, f.streamLn
	f.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		f.publish(ctx)
		return nil
	})

	if httpLn != nil {
		srv := &http.Server{
			Handler:           f.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.Serve(httpLn); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "serve http")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultDrainTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if streamLn != nil {
		g.Go(func() error {
			return f.serveStream(ctx, streamLn)
		})
		g.Go(func() error {
			<-ctx.Done()
			return streamLn.Close()
		})
	}

	err := g.Wait()
	f.hub.closeAll()
	return err
}

// Snapshot returns a snapshot of the current state.
func (f *Feed) Snapshot(mode scope.Mode) scope.Snapshot {
	v, _, _ := f.group.Do(string(mode), func() (interface{}, error) {
		return f.cfg.Source.State().Snapshot(mode), nil
	})
	return v.(scope.Snapshot)
}

// Subscribers returns the number of connected subscribers.
func (f *Feed) Subscribers() int {
	ws, st := f.hub.counts()
	return ws + st
}

// publish pushes a snapshot to every subscriber each refresh interval.
func (f *Feed) publish(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.broadcast()
		}
	}
}

func (f *Feed) broadcast() {
	ws, st := f.hub.counts()
	if ws+st == 0 {
		return
	}

	p, err := f.encode(f.Snapshot(f.mode), ws > 0, st > 0)
	if err != nil {
		log.Warn("encode snapshot", "error", err)
		return
	}
	f.hub.broadcast(p)
}
