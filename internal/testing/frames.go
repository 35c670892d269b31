package testing

import (
	"math"

	"github.com/xtxerr/powerscope/internal/wire"
)

// ConstantFrame returns a frame with every sample set to v and every
// frequency estimate set to 50.
func ConstantFrame(index, v float64) wire.Frame {
	f := wire.Frame{Index: index}
	for i := range f.Samples {
		f.Samples[i] = v
		f.Frequencies[i] = 50
	}
	return f
}

// FrameOf returns a frame with the given per-channel samples.
func FrameOf(index float64, samples [wire.NumChannels]float64) wire.Frame {
	f := wire.Frame{Index: index, Samples: samples}
	for i := range f.Frequencies {
		f.Frequencies[i] = 50
	}
	return f
}

// SineFrame returns sample n of a sine with the given period in samples.
// Channel i is shifted by i/NumChannels of a period.
func SineFrame(n, period int) wire.Frame {
	f := wire.Frame{Index: float64(n)}
	for i := range f.Samples {
		phase := 2 * math.Pi * (float64(n)/float64(period) + float64(i)/wire.NumChannels)
		f.Samples[i] = math.Sin(phase)
		f.Frequencies[i] = 50
	}
	return f
}
