// Package measure summarises the frequency estimates reported by the
// instrument. Each channel keeps a streaming aggregate per time bucket;
// percentiles come from a DDSketch.
package measure

import (
	"math"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/powerscope/config"
)

// Result is the summary of one channel over one bucket.
type Result struct {
	Channel     string    `json:"channel"`
	BucketStart time.Time `json:"bucket_start"`
	BucketEnd   time.Time `json:"bucket_end"`
	Count       int64     `json:"count"`
	Latest      float64   `json:"latest"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Avg         float64   `json:"avg"`

	// Percentiles are zero when disabled or empty.
	P50 float64 `json:"p50,omitempty"`
	P90 float64 `json:"p90,omitempty"`
	P99 float64 `json:"p99,omitempty"`
}

// Aggregate maintains running statistics for one channel and bucket.
type Aggregate struct {
	mu sync.Mutex

	channel     string
	bucketStart time.Time
	bucketEnd   time.Time

	count  int64
	sum    float64
	min    float64
	max    float64
	latest float64

	accuracy float64
	sketch   *ddsketch.DDSketch
}

// NewAggregate creates an aggregate. accuracy <= 0 disables percentiles.
func NewAggregate(channel string, start, end time.Time, accuracy float64) *Aggregate {
	a := &Aggregate{
		channel:  channel,
		accuracy: accuracy,
	}
	a.reset(start, end)
	return a
}

// Add adds a value. Non-finite values are ignored.
func (a *Aggregate) Add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += v
	a.latest = v
	if v < a.min {
		a.min = v
	}
	if v > a.max {
		a.max = v
	}

	if a.sketch != nil {
		// DDSketch only accepts values in its indexable range.
		_ = a.sketch.Add(v)
	}
}

// Count returns the number of values added.
func (a *Aggregate) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Result returns the summary so far.
func (a *Aggregate) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := Result{
		Channel:     a.channel,
		BucketStart: a.bucketStart,
		BucketEnd:   a.bucketEnd,
		Count:       a.count,
	}
	if a.count == 0 {
		return r
	}

	r.Latest = a.latest
	r.Min = a.min
	r.Max = a.max
	r.Avg = a.sum / float64(a.count)

	if a.sketch != nil && !a.sketch.IsEmpty() {
		r.P50, _ = a.sketch.GetValueAtQuantile(0.50)
		r.P90, _ = a.sketch.GetValueAtQuantile(0.90)
		r.P99, _ = a.sketch.GetValueAtQuantile(0.99)
	}
	return r
}

// Reset starts a new bucket.
func (a *Aggregate) Reset(start, end time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset(start, end)
}

func (a *Aggregate) reset(start, end time.Time) {
	a.bucketStart = start
	a.bucketEnd = end
	a.count = 0
	a.sum = 0
	a.min = math.MaxFloat64
	a.max = -math.MaxFloat64
	a.latest = 0
	a.sketch = nil

	if a.accuracy > 0 {
		// DDSketch has no Clear; a fresh sketch per bucket.
		if s, err := ddsketch.NewDefaultDDSketch(a.accuracy); err == nil {
			a.sketch = s
		}
	}
}

func defaultAccuracy(percentiles bool) float64 {
	if !percentiles {
		return 0
	}
	return config.DefaultMeasureAccuracy
}
