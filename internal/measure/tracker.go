package measure

import (
	"sync"
	"time"

	"github.com/xtxerr/powerscope/config"
	"github.com/xtxerr/powerscope/internal/scope"
)

// Options configures a Tracker.
type Options struct {
	// Bucket is the period of one summary.
	Bucket time.Duration

	// Percentiles enables p50/p90/p99 per channel.
	Percentiles bool
}

// Report is the frequency readout of all channels, grouped the way the
// instrument panel shows them.
type Report struct {
	Complete bool     `json:"complete"`
	Voltage  []Result `json:"voltage"`
	Current  []Result `json:"current"`
}

// Channels returns the results in channel order.
func (r Report) Channels() []Result {
	out := make([]Result, 0, len(r.Voltage)+len(r.Current))
	out = append(out, r.Voltage...)
	return append(out, r.Current...)
}

// Tracker aggregates per-channel frequency estimates into fixed time
// buckets. The last completed bucket is kept for readers, so the readout
// refreshes once per bucket rather than once per frame.
type Tracker struct {
	mu      sync.Mutex
	bucket  time.Duration
	aggs    [scope.NumChannels]*Aggregate
	started bool
	end     time.Time
	last    *Report
}

// NewTracker creates a tracker.
func NewTracker(opts Options) *Tracker {
	if opts.Bucket <= 0 {
		opts.Bucket = config.DefaultMeasureBucket
	}

	t := &Tracker{bucket: opts.Bucket}
	for _, ch := range scope.Channels() {
		t.aggs[ch] = NewAggregate(ch.String(), time.Time{}, time.Time{}, defaultAccuracy(opts.Percentiles))
	}
	return t
}

// Observe adds one frame's frequency estimates. The first call opens the
// first bucket; when at passes the end of the current bucket, the bucket
// is closed and becomes the readout.
func (t *Tracker) Observe(freqs [scope.NumChannels]float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		t.started = true
		t.resetLocked(at)
	} else if !at.Before(t.end) {
		r := t.reportLocked(true)
		t.last = &r

		t.resetLocked(at)
	}

	for ch, a := range t.aggs {
		a.Add(freqs[ch])
	}
}

// Report returns the last completed bucket. Before the first bucket has
// closed it returns the partial current bucket with Complete unset.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last != nil {
		return *t.last
	}
	return t.reportLocked(false)
}

// Current returns the partial current bucket.
func (t *Tracker) Current() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reportLocked(false)
}

func (t *Tracker) resetLocked(at time.Time) {
	start := at.Truncate(t.bucket)
	t.end = start.Add(t.bucket)
	for _, a := range t.aggs {
		a.Reset(start, t.end)
	}
}

func (t *Tracker) reportLocked(complete bool) Report {
	r := Report{Complete: complete}
	for _, ch := range scope.Channels() {
		res := t.aggs[ch].Result()
		if ch.IsVoltage() {
			r.Voltage = append(r.Voltage, res)
		} else {
			r.Current = append(r.Current, res)
		}
	}
	return r
}
