// Package instrument is a simulated acquisition device. It connects to
// the acquisition server, waits for each control vector and answers with
// a frame of three-phase sine samples. It is used by tests and by
// powerscoped -simulate.
package instrument

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/logging"
	"github.com/xtxerr/powerscope/internal/wire"
)

var log = logging.Component("instrument")

// Config configures the simulated device.
type Config struct {
	// Addr is the acquisition server address.
	Addr string

	// Order is the byte order of the wire doubles. Defaults to little endian.
	Order binary.ByteOrder

	// SampleRate is the number of frames per simulated second.
	SampleRate float64

	// Frequency is the fundamental of every channel in Hz.
	Frequency float64

	// Interval paces the answers. Zero answers as fast as the server asks.
	Interval time.Duration

	// Frames stops the device after this many frames. Zero runs until
	// the connection or ctx ends.
	Frames uint64
}

func (c Config) withDefaults() Config {
	if c.Order == nil {
		c.Order = binary.LittleEndian
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 5000
	}
	if c.Frequency <= 0 {
		c.Frequency = 50
	}
	return c
}

// Instrument is a simulated device.
type Instrument struct {
	cfg Config

	mu          sync.Mutex
	lastControl wire.ControlVector

	sent atomic.Uint64
}

// New creates a simulated device.
func New(cfg Config) *Instrument {
	return &Instrument{cfg: cfg.withDefaults()}
}

// Run dials the server and serves until the frame limit, a connection
// error or ctx cancellation.
func (in *Instrument) Run(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", in.cfg.Addr)
	if err != nil {
		return errors.NewConnection("dial "+in.cfg.Addr, err)
	}
	log.Info("connected to server", "address", in.cfg.Addr)
	return in.Serve(ctx, conn)
}

// Serve runs the device side of the protocol on conn and closes it.
func (in *Instrument) Serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	ctrl := make([]byte, wire.ControlSize)
	out := make([]byte, 0, wire.FrameSize)

	for n := uint64(0); in.cfg.Frames == 0 || n < in.cfg.Frames; n++ {
		if _, err := io.ReadFull(conn, ctrl); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.NewConnection("read control", err)
		}

		v, err := wire.DecodeControl(in.cfg.Order, ctrl)
		if err != nil {
			return err
		}
		in.mu.Lock()
		in.lastControl = v
		in.mu.Unlock()

		out = wire.AppendFrame(out[:0], in.cfg.Order, in.Frame(n, v))
		if _, err := conn.Write(out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.NewConnection("write frame", err)
		}
		in.sent.Add(1)

		if in.cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(in.cfg.Interval):
			}
		}
	}
	return nil
}

// Frame builds frame n. Channel k lags by k*120 degrees within its group;
// the control values are added to the group amplitudes.
func (in *Instrument) Frame(n uint64, v wire.ControlVector) wire.Frame {
	t := float64(n) / in.cfg.SampleRate
	w := 2 * math.Pi * in.cfg.Frequency * t

	f := wire.Frame{Index: t}
	for k := 0; k < 3; k++ {
		phase := w - float64(k)*2*math.Pi/3
		f.Samples[k] = (1 + v[k]) * math.Sin(phase)
		f.Samples[3+k] = (0.5 + v[3+k]) * math.Sin(phase-math.Pi/6)
	}
	for i := range f.Frequencies {
		f.Frequencies[i] = in.cfg.Frequency
	}
	return f
}

// LastControl returns the most recent control vector received.
func (in *Instrument) LastControl() wire.ControlVector {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastControl
}

// FramesSent returns the number of frames written.
func (in *Instrument) FramesSent() uint64 {
	return in.sent.Load()
}
