// Package wire implements the fixed-width instrument protocol.
//
// Every cycle the server sends a control vector of 6 float64 values (48
// bytes) and the instrument answers with a measurement frame of 13 float64
// values (104 bytes). There is no length prefix and no delimiter: the
// protocol is defined entirely by the record widths.
//
// Frame layout:
//
//	[index, V1, V2, V3, I1, I2, I3, f0_V1, f0_V2, f0_V3, f0_I1, f0_I2, f0_I3]
//
// Control layout:
//
//	[group1_1, group1_2, group1_3, group2_1, group2_2, group2_3]
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/xtxerr/powerscope/internal/errors"
)

const (
	// NumChannels is the number of measurement channels in a frame.
	NumChannels = 6

	// FieldSize is the width of one encoded float64.
	FieldSize = 8

	// ControlFields is the number of values in a control vector.
	ControlFields = 6

	// ControlSize is the encoded size of a control vector.
	ControlSize = ControlFields * FieldSize

	// FrameFields is the number of values in a measurement frame.
	FrameFields = 1 + 2*NumChannels

	// FrameSize is the encoded size of a measurement frame.
	FrameSize = FrameFields * FieldSize
)

// ControlVector holds the six values sent to the instrument each cycle.
// The values are opaque to the server.
type ControlVector [ControlFields]float64

// Group returns the three values of input group 1 or 2.
func (v ControlVector) Group(n int) [3]float64 {
	var out [3]float64
	if n != 1 && n != 2 {
		return out
	}
	copy(out[:], v[(n-1)*3:n*3])
	return out
}

// Frame is one decoded measurement record.
type Frame struct {
	// Index is the instrument's sequence/timestamp field. It is carried
	// through to recordings but not interpreted.
	Index float64

	// Samples are the instantaneous values in V1,V2,V3,I1,I2,I3 order.
	Samples [NumChannels]float64

	// Frequencies are the instrument's fundamental frequency estimates
	// in the same channel order.
	Frequencies [NumChannels]float64
}

// ParseByteOrder parses a config byte order ("little" or "big").
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "little", "le":
		return binary.LittleEndian, nil
	case "big", "be":
		return binary.BigEndian, nil
	default:
		return nil, errors.NewInvalidValue("wire.byte_order", s, "must be little or big")
	}
}

// EncodeControl packs a control vector into exactly ControlSize bytes.
func EncodeControl(order binary.ByteOrder, v ControlVector) []byte {
	return AppendControl(make([]byte, 0, ControlSize), order, v)
}

// AppendControl appends the encoded control vector to dst.
func AppendControl(dst []byte, order binary.ByteOrder, v ControlVector) []byte {
	for _, f := range v {
		dst = appendFloat(dst, order, f)
	}
	return dst
}

// DecodeControl unpacks a control vector. It is used by the instrument side.
func DecodeControl(order binary.ByteOrder, b []byte) (ControlVector, error) {
	var v ControlVector
	if len(b) != ControlSize {
		return v, errors.NewProtocol("control vector is %d bytes, want %d", len(b), ControlSize)
	}
	for i := range v {
		v[i] = math.Float64frombits(order.Uint64(b[i*FieldSize:]))
	}
	return v, nil
}

// EncodeFrame packs a frame into exactly FrameSize bytes.
func EncodeFrame(order binary.ByteOrder, f Frame) []byte {
	return AppendFrame(make([]byte, 0, FrameSize), order, f)
}

// AppendFrame appends the encoded frame to dst.
func AppendFrame(dst []byte, order binary.ByteOrder, f Frame) []byte {
	dst = appendFloat(dst, order, f.Index)
	for _, s := range f.Samples {
		dst = appendFloat(dst, order, s)
	}
	for _, fr := range f.Frequencies {
		dst = appendFloat(dst, order, fr)
	}
	return dst
}

func appendFloat(dst []byte, order binary.ByteOrder, f float64) []byte {
	var b [FieldSize]byte
	order.PutUint64(b[:], math.Float64bits(f))
	return append(dst, b[:]...)
}

// DecodeFrame unpacks exactly FrameFields doubles in fixed order.
// Any other input length is a protocol error.
func DecodeFrame(order binary.ByteOrder, b []byte) (Frame, error) {
	var f Frame
	if len(b) != FrameSize {
		return f, errors.NewProtocol("frame is %d bytes, want %d", len(b), FrameSize)
	}

	field := func(i int) float64 {
		return math.Float64frombits(order.Uint64(b[i*FieldSize:]))
	}

	f.Index = field(0)
	for ch := 0; ch < NumChannels; ch++ {
		f.Samples[ch] = field(1 + ch)
		f.Frequencies[ch] = field(1 + NumChannels + ch)
	}
	return f, nil
}

// String renders a frame for debug logs.
func (f Frame) String() string {
	return fmt.Sprintf("frame{index=%g samples=%v f0=%v}", f.Index, f.Samples, f.Frequencies)
}
