// Package scope holds the acquisition state of the six measurement
// channels: their sample buffers, trigger windows and the lock that
// separates the acquisition writer from readers.
//
// Buffers are compacted only down to the earliest trigger window, and a
// compaction resets every window to the whole remaining buffer. A channel
// that never crosses its threshold keeps its window at zero, so nothing can
// be trimmed and all six buffers grow until it fires. Stats.Stalled reports
// that condition; GET /api/status shows it as scope.stalled.
package scope

import (
	"fmt"
	"strings"

	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/wire"
)

// NumChannels is the number of measurement channels.
const NumChannels = wire.NumChannels

// Channel identifies a measurement channel. Values follow wire order.
type Channel int

const (
	V1 Channel = iota
	V2
	V3
	I1
	I2
	I3
)

var channelNames = [NumChannels]string{"V1", "V2", "V3", "I1", "I2", "I3"}

// Channels returns all channels in wire order.
func Channels() []Channel {
	return []Channel{V1, V2, V3, I1, I2, I3}
}

func (c Channel) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Channel(%d)", int(c))
	}
	return channelNames[c]
}

// Valid reports whether c is one of the six channels.
func (c Channel) Valid() bool {
	return c >= V1 && c <= I3
}

// IsVoltage reports whether c is a voltage channel.
func (c Channel) IsVoltage() bool {
	return c >= V1 && c <= V3
}

// ParseChannel maps a name such as "V1" or "i3" to its channel.
func ParseChannel(s string) (Channel, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range channelNames {
		if n == name {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("%q: %w", s, errors.ErrInvalidChannel)
}
