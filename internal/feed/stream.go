package feed

import (
	"bufio"
	"context"
	stderrors "errors"
	"io"
	"math"
	"net"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/powerscope/config"
	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/scope"
)

// serveStream accepts TCP subscribers. Each receives varint length-delimited
// google.protobuf.Struct snapshots until it disconnects.
func (f *Feed) serveStream(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error("stream accept error", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s := &subscriber{
			kind: kindStream,
			addr: conn.RemoteAddr().String(),
			send: make(chan *payload, f.cfg.SendBufferSize),
		}
		if !f.hub.add(s) {
			conn.Close()
			return nil
		}
		log.Info("stream subscriber connected", "address", s.addr)

		go f.streamWriter(conn, s)
		go func() {
			// Subscribers never send; a read returning means the peer left.
			_, _ = io.Copy(io.Discard, conn)
			f.hub.remove(s)
		}()
	}
}

func (f *Feed) streamWriter(conn net.Conn, s *subscriber) {
	defer func() {
		conn.Close()
		log.Info("stream subscriber disconnected", "address", s.addr)
	}()

	w := bufio.NewWriter(conn)
	for p := range s.send {
		if p.msg == nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if _, err := protodelim.MarshalTo(w, p.msg); err != nil {
			log.Debug("stream write failed", "address", s.addr, "error", err)
			f.hub.remove(s)
			return
		}
		if err := w.Flush(); err != nil {
			f.hub.remove(s)
			return
		}
	}
}

// ReadSnapshot reads one snapshot written by the stream. It is the client
// side of the stream and is used by tools and tests.
func ReadSnapshot(r protodelim.Reader) (*structpb.Struct, error) {
	msg := &structpb.Struct{}
	opts := protodelim.UnmarshalOptions{MaxSize: config.DefaultMaxMessageSize}
	if err := opts.UnmarshalFrom(r, msg); err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	return msg, nil
}

// snapshotStruct converts a snapshot to a protobuf Struct with the same
// field names as its JSON form.
func snapshotStruct(snap scope.Snapshot) (*structpb.Struct, error) {
	channels := make([]interface{}, 0, len(snap.Channels))
	for _, cs := range snap.Channels {
		samples := make([]interface{}, len(cs.Samples))
		for i, v := range cs.Samples {
			samples[i] = number(v)
		}
		channels = append(channels, map[string]interface{}{
			"channel":   cs.Channel,
			"lower":     cs.Lower,
			"upper":     cs.Upper,
			"threshold": cs.Threshold,
			"frequency": number(float64(cs.Frequency)),
			"samples":   samples,
		})
	}

	return structpb.NewStruct(map[string]interface{}{
		"mode":     string(snap.Mode),
		"frames":   snap.Frames,
		"length":   snap.Length,
		"taken_at": snap.TakenAt.UTC().Format(time.RFC3339Nano),
		"channels": channels,
	})
}

// number maps non-finite values to null, matching the JSON encoding.
func number(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
