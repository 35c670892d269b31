package scope

import (
	"github.com/xtxerr/powerscope/internal/errors"
)

// ChannelBuffer is the sample history of one channel together with its
// [lower, upper) view window, trigger threshold and latest frequency
// estimate.
//
// ChannelBuffer does no locking. Every method must be called with the
// owning State's lock held.
type ChannelBuffer struct {
	samples   []float64
	lower     int
	upper     int
	threshold float64
	frequency float64
}

// NewChannelBuffer creates an empty buffer with the given trigger threshold.
func NewChannelBuffer(threshold float64, capacity int) *ChannelBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &ChannelBuffer{
		samples:   make([]float64, 0, capacity),
		threshold: threshold,
	}
}

// Append adds a sample to the end of the buffer.
func (b *ChannelBuffer) Append(v float64) {
	b.samples = append(b.samples, v)
}

// Len returns the number of samples held.
func (b *ChannelBuffer) Len() int {
	return len(b.samples)
}

// SetWindow sets both view bounds together.
func (b *ChannelBuffer) SetWindow(lower, upper int) {
	b.lower, b.upper = lower, upper
}

// Window returns the view bounds.
func (b *ChannelBuffer) Window() (lower, upper int) {
	return b.lower, b.upper
}

// Slice returns a copy of samples[lower:upper]. Out of range bounds are
// clamped to the buffer.
func (b *ChannelBuffer) Slice(lower, upper int) []float64 {
	n := len(b.samples)
	lower = clamp(lower, 0, n)
	upper = clamp(upper, lower, n)

	out := make([]float64, upper-lower)
	copy(out, b.samples[lower:upper])
	return out
}

// View returns a copy of the samples inside the view window.
func (b *ChannelBuffer) View() []float64 {
	return b.Slice(b.lower, b.upper)
}

// TrimPrefix removes the first n samples and shifts both bounds down by n,
// clamped at zero. The backing array is reused so a long-running session
// keeps a bounded footprint.
func (b *ChannelBuffer) TrimPrefix(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.samples) {
		b.samples = b.samples[:0]
		b.lower, b.upper = 0, 0
		return
	}

	kept := copy(b.samples, b.samples[n:])
	clear(b.samples[kept:])
	b.samples = b.samples[:kept]

	b.lower = max(0, b.lower-n)
	b.upper = max(0, b.upper-n)
}

// Threshold returns the trigger threshold.
func (b *ChannelBuffer) Threshold() float64 {
	return b.threshold
}

// SetThreshold changes the trigger threshold. The current window is kept
// until the next sample is evaluated.
func (b *ChannelBuffer) SetThreshold(v float64) {
	b.threshold = v
}

// Frequency returns the last frequency estimate received for the channel.
func (b *ChannelBuffer) Frequency() float64 {
	return b.frequency
}

// SetFrequency overwrites the frequency estimate.
func (b *ChannelBuffer) SetFrequency(v float64) {
	b.frequency = v
}

// Validate checks 0 <= lower <= upper <= len.
func (b *ChannelBuffer) Validate() error {
	if b.lower < 0 || b.lower > b.upper || b.upper > len(b.samples) {
		return errors.NewInvariant("window [%d, %d) outside buffer of length %d",
			b.lower, b.upper, len(b.samples))
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
