package wire

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/xtxerr/powerscope/internal/errors"
)

// maxEmptyReads bounds consecutive reads that return no data and no error.
const maxEmptyReads = 100

// Conn runs the server side of the protocol over a byte stream.
// It is owned by one goroutine; only Close may be called concurrently.
type Conn struct {
	conn    net.Conn
	order   binary.ByteOrder
	timeout time.Duration

	sendBuf []byte
	recvBuf [FrameSize]byte

	bytesOut atomic.Int64
	bytesIn  atomic.Int64
}

// NewConn wraps an established connection. A zero timeout disables
// per-operation deadlines.
func NewConn(c net.Conn, order binary.ByteOrder, timeout time.Duration) *Conn {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Conn{
		conn:    c,
		order:   order,
		timeout: timeout,
		sendBuf: make([]byte, 0, ControlSize),
	}
}

// WriteControl sends the whole encoded control vector.
func (c *Conn) WriteControl(v ControlVector) error {
	c.sendBuf = AppendControl(c.sendBuf[:0], c.order, v)

	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}

	if err := writeAll(c.conn, c.sendBuf); err != nil {
		return errors.NewConnection("write control", err)
	}
	c.bytesOut.Add(ControlSize)
	return nil
}

// ReadFrame reads until exactly FrameSize bytes have been collected and
// decodes them. Partial reads are accumulated; a read that ends the stream
// is a connection error.
func (c *Conn) ReadFrame() (Frame, error) {
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}

	got, empty := 0, 0
	for got < FrameSize {
		n, err := c.conn.Read(c.recvBuf[got:])
		got += n
		if n == 0 && err == nil {
			if empty++; empty >= maxEmptyReads {
				err = io.ErrNoProgress
			}
		} else {
			empty = 0
		}
		if err != nil {
			c.bytesIn.Add(int64(got))
			if stderrors.Is(err, io.EOF) {
				return Frame{}, errors.NewConnection(
					fmt.Sprintf("peer closed after %d of %d frame bytes", got, FrameSize), err)
			}
			return Frame{}, errors.NewConnection("read frame", err)
		}
	}
	c.bytesIn.Add(FrameSize)

	return DecodeFrame(c.order, c.recvBuf[:])
}

// Exchange performs one full cycle: send control, then receive a frame.
// Sending first matters: the instrument blocks on the control vector
// before it sends measurements.
func (c *Conn) Exchange(v ControlVector) (Frame, error) {
	if err := c.WriteControl(v); err != nil {
		return Frame{}, err
	}
	return c.ReadFrame()
}

// Close closes the underlying connection, unblocking pending I/O.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	if a := c.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// BytesIn returns the number of bytes received.
func (c *Conn) BytesIn() int64 { return c.bytesIn.Load() }

// BytesOut returns the number of bytes sent.
func (c *Conn) BytesOut() int64 { return c.bytesOut.Load() }

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
