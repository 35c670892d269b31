package scope

import (
	"sync"
	"time"

	"github.com/xtxerr/powerscope/config"
	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/wire"
)

// Options configures a State.
type Options struct {
	// WindowSize is the number of samples a trigger window spans.
	WindowSize int

	// MaxBufferLength is the length above which the buffers are compacted.
	MaxBufferLength int

	// DefaultThreshold applies to channels without an entry in Thresholds.
	DefaultThreshold float64

	// Thresholds overrides the trigger threshold per channel.
	Thresholds map[Channel]float64
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		WindowSize:       config.DefaultWindowSize,
		MaxBufferLength:  config.DefaultMaxBufferLength,
		DefaultThreshold: config.DefaultTriggerThreshold,
	}
}

func (o Options) withDefaults() Options {
	if o.WindowSize <= 0 {
		o.WindowSize = config.DefaultWindowSize
	}
	if o.MaxBufferLength <= 0 {
		o.MaxBufferLength = config.DefaultMaxBufferLength
	}
	return o
}

// Threshold returns the configured threshold for ch.
func (o Options) Threshold(ch Channel) float64 {
	if v, ok := o.Thresholds[ch]; ok {
		return v
	}
	return o.DefaultThreshold
}

// FrameResult describes what applying one frame did.
type FrameResult struct {
	// Seq is the 1-based number of the frame within this state.
	Seq uint64

	// Length is the common buffer length after the frame.
	Length int

	// Fired reports per channel whether the trigger moved the window.
	Fired [NumChannels]bool

	// Compacted is set when the buffers were trimmed.
	Compacted bool

	// Trimmed is the number of samples removed from each channel.
	Trimmed int

	// Stalled is set when the buffers exceed the maximum length but no
	// prefix could be removed because some window starts at zero.
	Stalled bool
}

// Stats are cumulative counters of a State.
type Stats struct {
	Frames      uint64
	Compactions uint64
	Trimmed     uint64
	Length      int
	LastFrameAt time.Time

	// Stalled is set while the buffers are over the limit and no prefix
	// can be trimmed. Stalls counts how often that began.
	Stalled bool
	Stalls  uint64
}

// State is the lock-guarded aggregate of the six channel buffers.
//
// A single writer applies frames; any number of readers take copies
// through the accessor methods. All six channels are updated under one
// write lock, so a reader never sees a frame applied to some channels
// and not others, nor a length that disagrees with a window.
type State struct {
	mu sync.RWMutex

	buffers [NumChannels]*ChannelBuffer
	engine  TriggerEngine
	maxLen  int

	frames      uint64
	compactions uint64
	trimmed     uint64
	stalled     bool
	stalls      uint64
	lastFrameAt time.Time
}

// NewState creates an empty state.
func NewState(opts Options) *State {
	opts = opts.withDefaults()

	s := &State{
		engine: TriggerEngine{WindowSize: opts.WindowSize},
		maxLen: opts.MaxBufferLength,
	}
	for _, ch := range Channels() {
		s.buffers[ch] = NewChannelBuffer(opts.Threshold(ch), opts.MaxBufferLength+1)
	}
	return s
}

// WindowSize returns the configured window size.
func (s *State) WindowSize() int {
	return s.engine.WindowSize
}

// MaxBufferLength returns the configured compaction limit.
func (s *State) MaxBufferLength() int {
	return s.maxLen
}

// ApplyFrame appends a frame to all six channels, overwrites the frequency
// estimates, retriggers every channel and compacts when the buffers have
// grown past the limit. It returns an invariant violation if the resulting
// windows are inconsistent; the state is left as it is in that case.
func (s *State) ApplyFrame(f wire.Frame) (FrameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch, b := range s.buffers {
		b.Append(f.Samples[ch])
		b.SetFrequency(f.Frequencies[ch])
	}

	var res FrameResult
	res.Fired = s.engine.ApplyAll(&s.buffers, f.Samples)

	s.frames++
	s.lastFrameAt = time.Now()
	res.Seq = s.frames

	if s.buffers[0].Len() > s.maxLen {
		res.Trimmed = s.compactLocked()
		res.Compacted = res.Trimmed > 0
		res.Stalled = res.Trimmed == 0
		if res.Stalled && !s.stalled {
			s.stalls++
		}
		s.stalled = res.Stalled
	}
	res.Length = s.buffers[0].Len()

	return res, s.validateLocked()
}

// compactLocked trims the prefix before the earliest view window from all
// channels, keeping the lengths equal, and then resets every window to the
// whole remaining buffer. No channel loses a sample at or after its own
// lower bound. It returns the number of samples trimmed.
func (s *State) compactLocked() int {
	cut := s.buffers[0].lower
	for _, b := range s.buffers[1:] {
		cut = min(cut, b.lower)
	}
	if cut <= 0 {
		return 0
	}

	for _, b := range s.buffers {
		b.TrimPrefix(cut)
		b.SetWindow(0, b.Len())
	}
	s.compactions++
	s.trimmed += uint64(cut)
	return cut
}

func (s *State) validateLocked() error {
	n := s.buffers[0].Len()
	for ch, b := range s.buffers {
		if b.Len() != n {
			return errors.NewInvariant("channel %s has %d samples, %s has %d",
				Channel(ch), b.Len(), V1, n)
		}
		if err := b.Validate(); err != nil {
			return errors.Wrapf(err, "channel %s", Channel(ch))
		}
	}
	return nil
}

// Validate checks the window and length invariants under the read lock.
func (s *State) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validateLocked()
}

// SetThreshold changes the trigger threshold of one channel.
func (s *State) SetThreshold(ch Channel, v float64) error {
	if !ch.Valid() {
		return errors.Wrapf(errors.ErrInvalidChannel, "channel %d", int(ch))
	}
	s.mu.Lock()
	s.buffers[ch].SetThreshold(v)
	s.mu.Unlock()
	return nil
}

// Threshold returns the trigger threshold of one channel.
func (s *State) Threshold(ch Channel) float64 {
	if !ch.Valid() {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffers[ch].Threshold()
}

// View returns a copy of the samples inside the channel's trigger window.
func (s *State) View(ch Channel) []float64 {
	if !ch.Valid() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffers[ch].View()
}

// History returns a copy of the channel's whole buffer.
func (s *State) History(ch Channel) []float64 {
	if !ch.Valid() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.buffers[ch]
	return b.Slice(0, b.Len())
}

// Window returns the channel's view bounds.
func (s *State) Window(ch Channel) (lower, upper int) {
	if !ch.Valid() {
		return 0, 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffers[ch].Window()
}

// Frequency returns the channel's last frequency estimate.
func (s *State) Frequency(ch Channel) float64 {
	if !ch.Valid() {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffers[ch].Frequency()
}

// Frequencies returns all frequency estimates in channel order.
func (s *State) Frequencies() [NumChannels]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out [NumChannels]float64
	for ch, b := range s.buffers {
		out[ch] = b.Frequency()
	}
	return out
}

// Len returns the common buffer length.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffers[0].Len()
}

// Stats returns cumulative counters.
func (s *State) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Frames:      s.frames,
		Compactions: s.compactions,
		Trimmed:     s.trimmed,
		Length:      s.buffers[0].Len(),
		LastFrameAt: s.lastFrameAt,
		Stalled:     s.stalled,
		Stalls:      s.stalls,
	}
}
