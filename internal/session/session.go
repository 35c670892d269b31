// Package session runs one acquisition session: the send-control /
// receive-frame exchange with a single connected instrument.
//
// Each cycle the session reads the control vector, sends it, waits for
// exactly one measurement frame and applies it to the shared scope state.
// Recording, measurement and metrics hooks run after the state lock is
// released. Any transport, protocol or invariant error ends the session;
// retrying is up to the caller.
package session

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/logging"
	"github.com/xtxerr/powerscope/internal/metrics"
	"github.com/xtxerr/powerscope/internal/scope"
	"github.com/xtxerr/powerscope/internal/wire"
)

var log = logging.Component("session")

// ControlSource provides the control vector sent each cycle.
type ControlSource interface {
	ControlVector() wire.ControlVector
}

// FrameSink receives every applied frame, e.g. a recorder.
// RecordFrame must not block.
type FrameSink interface {
	RecordFrame(sessionID string, seq uint64, at time.Time, f wire.Frame)
}

// FrequencySink receives the frequency estimates of every frame.
type FrequencySink interface {
	Observe(freqs [wire.NumChannels]float64, at time.Time)
}

// Config configures a Session.
type Config struct {
	// ID identifies the session in logs and recordings.
	ID string

	// Conn is the accepted instrument connection (required).
	Conn net.Conn

	// Order is the byte order of the wire doubles. Defaults to little endian.
	Order binary.ByteOrder

	// IOTimeout bounds each send and receive. Zero blocks until the peer
	// answers or the session is closed.
	IOTimeout time.Duration

	// Control supplies the control vector. A nil source sends zeros.
	Control ControlSource

	// State receives the frames. If nil, a new state is built from Scope.
	State *scope.State
	Scope scope.Options

	Recorder FrameSink
	Measure  FrequencySink
	Metrics  *metrics.Collector
}

type zeroControl struct{}

func (zeroControl) ControlVector() wire.ControlVector { return wire.ControlVector{} }

// Stats describes a session.
type Stats struct {
	ID        string
	Peer      string
	Phase     Phase
	StartedAt time.Time
	Frames    uint64
	BytesIn   int64
	BytesOut  int64
}

// Session owns one instrument connection and the state it feeds.
type Session struct {
	id      string
	peer    string
	conn    *wire.Conn
	control ControlSource
	state   *scope.State

	recorder FrameSink
	measure  FrequencySink
	metrics  *metrics.Collector

	phase     atomic.Int32
	startedAt time.Time
	frames    atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once

	// owned by the Run goroutine
	stalled     bool
	reportedIn  int64
	reportedOut int64
}

// New creates a session for an accepted connection.
func New(cfg Config) (*Session, error) {
	if cfg.Conn == nil {
		return nil, errors.NewMissingField("session connection")
	}

	control := cfg.Control
	if control == nil {
		control = zeroControl{}
	}
	st := cfg.State
	if st == nil {
		st = scope.NewState(cfg.Scope)
	}

	s := &Session{
		id:        cfg.ID,
		conn:      wire.NewConn(cfg.Conn, cfg.Order, cfg.IOTimeout),
		control:   control,
		state:     st,
		recorder:  cfg.Recorder,
		measure:   cfg.Measure,
		metrics:   cfg.Metrics,
		startedAt: time.Now(),
	}
	s.peer = s.conn.RemoteAddr()
	s.setPhase(PhaseConnected)
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Peer returns the instrument address.
func (s *Session) Peer() string { return s.peer }

// State returns the scope state fed by this session.
func (s *Session) State() *scope.State { return s.state }

// Phase returns the current phase.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

func (s *Session) setPhase(p Phase) {
	s.phase.Store(int32(p))
	s.metrics.SetPhase(p.String())
}

// Run runs the exchange loop until the connection fails, a frame is
// malformed, or ctx is cancelled. It returns nil when the session was
// closed on purpose (Close or ctx), and the terminating error otherwise.
func (s *Session) Run(ctx context.Context) error {
	if s.closed.Load() {
		return errors.ErrSessionClosed
	}

	ctx = logging.ContextWithPeer(logging.ContextWithSessionID(ctx, s.id), s.peer)
	logger := logging.WithContext(ctx, log)

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.setPhase(PhaseExchanging)
	logger.Info("exchange started")

	err := s.loop(logger)

	shutdown := s.closed.Load()
	s.Close()
	s.reportBytes()

	st := s.state.Stats()
	if shutdown {
		logger.Info("session closed", "frames", s.frames.Load(), "buffer_length", st.Length)
		return nil
	}

	logger.Warn("session ended",
		"error", err,
		"kind", errors.Kind(err),
		"frames", s.frames.Load(),
		"buffer_length", st.Length)
	return errors.Wrapf(err, "session %s", s.id)
}

func (s *Session) loop(logger *slog.Logger) error {
	for {
		f, err := s.conn.Exchange(s.control.ControlVector())
		if err != nil {
			return err
		}
		at := time.Now()

		res, err := s.state.ApplyFrame(f)
		if err != nil {
			return err
		}
		s.frames.Add(1)

		s.afterFrame(logger, f, res, at)
	}
}

// afterFrame runs the non-locking consumers of a frame.
func (s *Session) afterFrame(logger *slog.Logger, f wire.Frame, res scope.FrameResult, at time.Time) {
	s.metrics.FrameApplied(res.Length, time.Since(at))

	switch {
	case res.Compacted:
		if s.stalled {
			logger.Info("compaction resumed", "trimmed", res.Trimmed)
		}
		s.stalled = false
		s.metrics.Compacted(res.Trimmed)
		logger.Debug("buffers compacted", "trimmed", res.Trimmed, "length", res.Length)
	case res.Stalled:
		s.metrics.CompactionStalled()
		if !s.stalled {
			s.stalled = true
			logger.Warn("buffers over limit but a trigger window starts at zero; nothing trimmed",
				"length", res.Length,
				"max_buffer_length", s.state.MaxBufferLength())
		}
	}

	if s.recorder != nil {
		s.recorder.RecordFrame(s.id, res.Seq, at, f)
	}
	if s.measure != nil {
		s.measure.Observe(f.Frequencies, at)
	}

	if res.Seq%64 == 0 {
		s.reportBytes()
		for _, ch := range scope.Channels() {
			s.metrics.SetFrequency(ch.String(), f.Frequencies[ch])
		}
	}
}

func (s *Session) reportBytes() {
	in, out := s.conn.BytesIn(), s.conn.BytesOut()
	s.metrics.AddBytes(in-s.reportedIn, out-s.reportedOut)
	s.reportedIn, s.reportedOut = in, out
}

// Close ends the session and unblocks any pending I/O. It is safe to call
// from any goroutine and more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
		s.setPhase(PhaseClosed)
	})
	return err
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Stats returns a description of the session.
func (s *Session) Stats() Stats {
	return Stats{
		ID:        s.id,
		Peer:      s.peer,
		Phase:     s.Phase(),
		StartedAt: s.startedAt,
		Frames:    s.frames.Load(),
		BytesIn:   s.conn.BytesIn(),
		BytesOut:  s.conn.BytesOut(),
	}
}
