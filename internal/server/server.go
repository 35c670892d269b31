// Package server provides the acquisition server.
//
// The server listens for the instrument, runs one acquisition session at
// a time and keeps the most recent scope state available to readers after
// a session ends. Connections arriving while a session is active are
// refused.
package server

import (
	"context"
	"encoding/binary"
	"maps"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/powerscope/config"
	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/logging"
	"github.com/xtxerr/powerscope/internal/metrics"
	"github.com/xtxerr/powerscope/internal/scope"
	"github.com/xtxerr/powerscope/internal/session"
)

var log = logging.Component("server")

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Listen is the address the instrument connects to.
	Listen string

	// Relisten accepts a new instrument after a session ends. When false,
	// Run returns after the first session.
	Relisten bool

	// Wire settings passed to every session.
	Order     binary.ByteOrder
	IOTimeout time.Duration

	// Scope configures the state created for each session.
	Scope scope.Options

	// Session collaborators.
	Control  session.ControlSource
	Recorder session.FrameSink
	Measure  session.FrequencySink
	Metrics  *metrics.Collector
}

// =============================================================================
// Server
// =============================================================================

// Server is the acquisition server.
type Server struct {
	cfg Config

	mu       sync.RWMutex
	listener net.Listener
	current  *session.Session
	state    *scope.State
	lastErr  error

	phase    atomic.Int32
	sessions atomic.Uint64
	closed   atomic.Bool

	wg sync.WaitGroup
}

// New creates a server. Readers see an empty state until the first
// instrument connects.
func New(cfg Config) *Server {
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListenAddress
	}
	cfg.Scope.Thresholds = maps.Clone(cfg.Scope.Thresholds)

	s := &Server{
		cfg:   cfg,
		state: scope.NewState(cfg.Scope),
	}
	s.setPhase(session.PhaseIdle)
	return s
}

func (s *Server) setPhase(p session.Phase) {
	s.phase.Store(int32(p))
	s.cfg.Metrics.SetPhase(p.String())
}

// Listen binds the listen address. Run calls it if needed; calling it
// first lets callers learn the bound address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return errors.ErrServerClosed
	}
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	s.listener = ln
	s.setPhase(session.PhaseListening)
	log.Info("listening for instrument", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run accepts instrument connections until ctx is cancelled, Shutdown is
// called, or (without Relisten) the first session ends. In the last case
// it returns the session's error.
func (s *Server) Run(ctx context.Context) error {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()

	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.RLock()
		ln = s.listener
		s.mu.RUnlock()
	}

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				s.mu.RLock()
				defer s.mu.RUnlock()
				return s.lastErr
			}
			log.Error("accept error", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.handleConn(ctx, conn)
	}
}

// Shutdown stops accepting, closes the active session and waits for it.
func (s *Server) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	log.Info("shutting down")

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	cur := s.current
	s.mu.Unlock()

	if cur != nil {
		cur.Close()
	}
	s.wg.Wait()
	s.setPhase(session.PhaseClosed)

	log.Info("shutdown complete")
}

// =============================================================================
// Connection Handling
// =============================================================================

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()

	s.mu.Lock()
	if s.current != nil || s.closed.Load() {
		busy := s.current
		s.mu.Unlock()

		log.Warn("refusing connection, a session is active",
			"remote", remote,
			"active_peer", peerOf(busy))
		s.cfg.Metrics.PeerRejected()
		conn.Close()
		return
	}

	st := scope.NewState(s.cfg.Scope)
	sess, err := session.New(session.Config{
		ID:        uuid.NewString(),
		Conn:      conn,
		Order:     s.cfg.Order,
		IOTimeout: s.cfg.IOTimeout,
		Control:   s.cfg.Control,
		State:     st,
		Recorder:  s.cfg.Recorder,
		Measure:   s.cfg.Measure,
		Metrics:   s.cfg.Metrics,
	})
	if err != nil {
		s.mu.Unlock()
		log.Error("failed to create session", "remote", remote, "error", err)
		conn.Close()
		return
	}

	s.current = sess
	s.state = st
	s.wg.Add(1)
	s.mu.Unlock()

	n := s.sessions.Add(1)
	s.cfg.Metrics.SessionStarted()
	log.Info("instrument connected", "session_id", sess.ID(), "remote", remote, "session", n)

	go s.runSession(ctx, sess)
}

func (s *Server) runSession(ctx context.Context, sess *session.Session) {
	defer s.wg.Done()

	err := sess.Run(ctx)
	s.cfg.Metrics.SessionEnded(errors.Kind(err))

	s.mu.Lock()
	s.current = nil
	s.lastErr = err
	relisten := s.cfg.Relisten && !s.closed.Load()
	if !relisten && s.listener != nil {
		s.closed.Store(true)
		s.listener.Close()
	}
	s.mu.Unlock()

	stats := sess.Stats()
	log.Info("instrument disconnected",
		"session_id", stats.ID,
		"frames", stats.Frames,
		"duration", time.Since(stats.StartedAt).Round(time.Millisecond),
		"relisten", relisten)

	if relisten {
		s.setPhase(session.PhaseListening)
	} else {
		s.setPhase(session.PhaseClosed)
	}
}

func peerOf(sess *session.Session) string {
	if sess == nil {
		return ""
	}
	return sess.Peer()
}

// =============================================================================
// Reader Access
// =============================================================================

// State returns the state of the active session, or of the last one.
func (s *Server) State() *scope.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Session returns the active session, or nil.
func (s *Server) Session() *session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Phase returns the acquisition phase.
func (s *Server) Phase() session.Phase {
	if cur := s.Session(); cur != nil {
		return cur.Phase()
	}
	return session.Phase(s.phase.Load())
}

// Sessions returns the number of sessions started.
func (s *Server) Sessions() uint64 {
	return s.sessions.Load()
}

// SetThreshold changes a channel's trigger threshold for the current state
// and for every later session.
func (s *Server) SetThreshold(ch scope.Channel, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.state.SetThreshold(ch, v); err != nil {
		return err
	}
	if s.cfg.Scope.Thresholds == nil {
		s.cfg.Scope.Thresholds = make(map[scope.Channel]float64)
	}
	s.cfg.Scope.Thresholds[ch] = v
	return nil
}
