package scope

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/powerscope/internal/errors"
)

// Mode selects which samples a snapshot carries.
type Mode string

const (
	// ModeWindow carries the samples inside each trigger window.
	ModeWindow Mode = "window"

	// ModeHistory carries each channel's whole buffer.
	ModeHistory Mode = "history"
)

// ParseMode parses a snapshot mode. The empty string selects ModeWindow.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeWindow:
		return ModeWindow, nil
	case ModeHistory:
		return ModeHistory, nil
	default:
		return "", errors.NewInvalidValue("mode", s, "must be window or history")
	}
}

// Samples is a copied run of samples. Non-finite values encode as JSON null.
type Samples []float64

// MarshalJSON implements json.Marshaler.
func (s Samples) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	b := make([]byte, 0, 2+len(s)*8)
	b = append(b, '[')
	for i, v := range s {
		if i > 0 {
			b = append(b, ',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			b = append(b, "null"...)
			continue
		}
		b = strconv.AppendFloat(b, v, 'g', -1, 64)
	}
	return append(b, ']'), nil
}

// Value is a single reading that encodes as JSON null when not finite.
type Value float64

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

// ChannelSnapshot is one channel of a Snapshot.
type ChannelSnapshot struct {
	Channel   string  `json:"channel"`
	Lower     int     `json:"lower"`
	Upper     int     `json:"upper"`
	Threshold float64 `json:"threshold"`
	Frequency Value   `json:"frequency"`
	Samples   Samples `json:"samples"`
}

// Snapshot is a consistent copy of all six channels taken under one read
// lock.
type Snapshot struct {
	Mode     Mode              `json:"mode"`
	Frames   uint64            `json:"frames"`
	Length   int               `json:"length"`
	TakenAt  time.Time         `json:"taken_at"`
	Channels []ChannelSnapshot `json:"channels"`
}

// Snapshot copies the state of every channel.
func (s *State) Snapshot(mode Mode) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Mode:     mode,
		Frames:   s.frames,
		Length:   s.buffers[0].Len(),
		TakenAt:  time.Now(),
		Channels: make([]ChannelSnapshot, 0, NumChannels),
	}

	for ch, b := range s.buffers {
		lower, upper := b.Window()
		cs := ChannelSnapshot{
			Channel:   Channel(ch).String(),
			Lower:     lower,
			Upper:     upper,
			Threshold: b.Threshold(),
			Frequency: Value(b.Frequency()),
		}
		if mode == ModeHistory {
			cs.Samples = b.Slice(0, b.Len())
		} else {
			cs.Samples = b.View()
		}
		snap.Channels = append(snap.Channels, cs)
	}
	return snap
}

// Validate checks the snapshot's windows against its length.
func (s Snapshot) Validate() error {
	for _, cs := range s.Channels {
		if cs.Lower < 0 || cs.Lower > cs.Upper || cs.Upper > s.Length {
			return errors.NewInvariant("snapshot channel %s window [%d, %d) outside length %d",
				cs.Channel, cs.Lower, cs.Upper, s.Length)
		}
	}
	return nil
}
