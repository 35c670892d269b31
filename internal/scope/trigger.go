package scope

// TriggerWindow returns the view window ending at length and spanning at
// most windowSize samples.
func TriggerWindow(length, windowSize int) (lower, upper int) {
	upper = length
	lower = max(0, upper-windowSize)
	return lower, upper
}

// Retrigger evaluates the newest sample of b against its threshold. When
// the sample is strictly above the threshold the window is moved to end at
// the buffer's current length; otherwise it is left where the last trigger
// put it. It reports whether the trigger fired.
//
// This is a level trigger: it fires on every sample above the threshold,
// not only on the rising edge. It is meant for periodic signals; on
// non-repeating input the window simply follows the last sample above the
// threshold.
func Retrigger(b *ChannelBuffer, sample float64, windowSize int) bool {
	if !(sample > b.threshold) {
		return false
	}
	b.SetWindow(TriggerWindow(b.Len(), windowSize))
	return true
}

// TriggerEngine applies Retrigger with a fixed window size.
type TriggerEngine struct {
	WindowSize int
}

// Apply runs the trigger for one channel after its sample was appended.
func (e TriggerEngine) Apply(b *ChannelBuffer, sample float64) bool {
	return Retrigger(b, sample, e.WindowSize)
}

// ApplyAll runs the trigger for every channel of a frame. buffers and
// samples are indexed by channel.
func (e TriggerEngine) ApplyAll(buffers *[NumChannels]*ChannelBuffer, samples [NumChannels]float64) (fired [NumChannels]bool) {
	for ch, b := range buffers {
		fired[ch] = e.Apply(b, samples[ch])
	}
	return fired
}
