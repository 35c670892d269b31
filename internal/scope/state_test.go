package scope

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/xtxerr/powerscope/internal/errors"
	testutil "github.com/xtxerr/powerscope/internal/testing"
	"github.com/xtxerr/powerscope/internal/wire"
)

func TestStateApplyFrameUpdatesAllChannels(t *testing.T) {
	st := NewState(Options{WindowSize: 100, MaxBufferLength: 1000})

	f := testutil.FrameOf(1, [NumChannels]float64{1, -1, 2, -2, 3, 0})
	f.Frequencies = [NumChannels]float64{50, 51, 52, 53, 54, 55}

	res, err := st.ApplyFrame(f)
	if err != nil {
		t.Fatalf("ApplyFrame failed: %v", err)
	}

	if res.Seq != 1 || res.Length != 1 {
		t.Errorf("expected seq=1 length=1, got seq=%d length=%d", res.Seq, res.Length)
	}
	want := [NumChannels]bool{true, false, true, false, true, false}
	if res.Fired != want {
		t.Errorf("expected fired=%v, got %v", want, res.Fired)
	}
	if got := st.Frequencies(); got != f.Frequencies {
		t.Errorf("expected frequencies %v, got %v", f.Frequencies, got)
	}
	if got := st.Frequency(I2); got != 54 {
		t.Errorf("expected I2 frequency 54, got %v", got)
	}
	for _, ch := range Channels() {
		if len(st.History(ch)) != 1 {
			t.Errorf("%s: expected 1 sample", ch)
		}
	}
}

func TestStateNonTriggerFrameKeepsWindow(t *testing.T) {
	st := NewState(Options{WindowSize: 10, MaxBufferLength: 1000})

	for i := 0; i < 30; i++ {
		if _, err := st.ApplyFrame(testutil.ConstantFrame(float64(i), 1)); err != nil {
			t.Fatal(err)
		}
	}
	lower, upper := st.Window(V2)

	if _, err := st.ApplyFrame(testutil.ConstantFrame(30, 0)); err != nil {
		t.Fatal(err)
	}

	if st.Len() != 31 {
		t.Errorf("expected len=31, got %d", st.Len())
	}
	l2, u2 := st.Window(V2)
	if l2 != lower || u2 != upper {
		t.Errorf("expected window [%d, %d) unchanged, got [%d, %d)", lower, upper, l2, u2)
	}
}

func TestStatePerChannelThresholds(t *testing.T) {
	st := NewState(Options{
		WindowSize:      10,
		MaxBufferLength: 1000,
		Thresholds:      map[Channel]float64{I1: 5},
	})

	if got := st.Threshold(I1); got != 5 {
		t.Errorf("expected I1 threshold 5, got %v", got)
	}

	res, _ := st.ApplyFrame(testutil.ConstantFrame(0, 1))
	if !res.Fired[V1] || res.Fired[I1] {
		t.Errorf("expected V1 to fire and I1 not, got %v", res.Fired)
	}

	if err := st.SetThreshold(I1, 0.5); err != nil {
		t.Fatal(err)
	}
	res, _ = st.ApplyFrame(testutil.ConstantFrame(1, 1))
	if !res.Fired[I1] {
		t.Error("expected I1 to fire after lowering threshold")
	}

	if err := st.SetThreshold(Channel(9), 1); !errors.Is(err, errors.ErrInvalidChannel) {
		t.Errorf("expected invalid channel error, got %v", err)
	}
}

func TestStateCompaction(t *testing.T) {
	st := NewState(Options{WindowSize: 51, MaxBufferLength: 10000})

	var last FrameResult
	for i := 0; i < 10001; i++ {
		// Distinct positive samples so every frame triggers.
		res, err := st.ApplyFrame(testutil.ConstantFrame(float64(i), float64(i+1)))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if i < 10000 && res.Compacted {
			t.Fatalf("frame %d: unexpected compaction", i)
		}
		last = res
	}

	if !last.Compacted || last.Trimmed != 9950 {
		t.Fatalf("expected compaction trimming 9950, got %+v", last)
	}
	if st.Len() != 51 {
		t.Errorf("expected len=51, got %d", st.Len())
	}

	for _, ch := range Channels() {
		lower, upper := st.Window(ch)
		if lower != 0 || upper != 51 {
			t.Errorf("%s: expected window [0, 51), got [%d, %d)", ch, lower, upper)
		}

		h := st.History(ch)
		for j, v := range h {
			// Pre-compaction index 9950+j held value 9950+j+1.
			if want := float64(9950 + j + 1); v != want {
				t.Errorf("%s: sample %d: expected %v, got %v", ch, j, want, v)
				break
			}
		}
	}

	stats := st.Stats()
	if stats.Compactions != 1 || stats.Trimmed != 9950 || stats.Frames != 10001 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestStateCompactionResetsWindows(t *testing.T) {
	st := NewState(Options{WindowSize: 20, MaxBufferLength: 200})

	// V1 triggers only early, the others until the end.
	for i := 0; i < 201; i++ {
		var s [NumChannels]float64
		for ch := range s {
			s[ch] = 1
		}
		if i >= 120 {
			s[V1] = -1
		}
		if _, err := st.ApplyFrame(testutil.FrameOf(float64(i), s)); err != nil {
			t.Fatal(err)
		}
	}

	// V1 window was [100, 120), the others [181, 201); cut = 100.
	if st.Len() != 101 {
		t.Errorf("expected len=101, got %d", st.Len())
	}
	for _, ch := range Channels() {
		if lower, upper := st.Window(ch); lower != 0 || upper != 101 {
			t.Errorf("%s: expected window [0, 101), got [%d, %d)", ch, lower, upper)
		}
	}

	// V1 samples 100..119 were 1, then -1 until the end.
	v1 := st.View(V1)
	if len(v1) != 101 || v1[0] != 1 || v1[19] != 1 || v1[20] != -1 {
		t.Errorf("V1: unexpected retained samples %v", v1)
	}
	if err := st.Validate(); err != nil {
		t.Errorf("unexpected invariant violation: %v", err)
	}
}

func TestStateCompactionStallsWhenWindowAtZero(t *testing.T) {
	st := NewState(Options{
		WindowSize:      10,
		MaxBufferLength: 50,
		Thresholds:      map[Channel]float64{I3: 100},
	})

	var res FrameResult
	for i := 0; i < 60; i++ {
		var err error
		res, err = st.ApplyFrame(testutil.ConstantFrame(float64(i), 1))
		if err != nil {
			t.Fatal(err)
		}
	}

	if !res.Stalled || res.Compacted {
		t.Errorf("expected stalled compaction, got %+v", res)
	}
	if st.Len() != 60 {
		t.Errorf("expected nothing trimmed, got len=%d", st.Len())
	}

	stats := st.Stats()
	if !stats.Stalled || stats.Stalls != 1 {
		t.Errorf("expected one ongoing stall, got stalled=%v stalls=%d", stats.Stalled, stats.Stalls)
	}

	// Once I3 fires the buffers can be trimmed again.
	if err := st.SetThreshold(I3, 0); err != nil {
		t.Fatal(err)
	}
	res, err := st.ApplyFrame(testutil.ConstantFrame(60, 1))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Compacted {
		t.Errorf("expected compaction after I3 fired, got %+v", res)
	}
	if stats := st.Stats(); stats.Stalled || stats.Stalls != 1 {
		t.Errorf("expected stall cleared, got stalled=%v stalls=%d", stats.Stalled, stats.Stalls)
	}
}

func TestStateUniformLength(t *testing.T) {
	st := NewState(Options{WindowSize: 7, MaxBufferLength: 64})
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		var s [NumChannels]float64
		for ch := range s {
			s[ch] = rng.NormFloat64()
		}
		if _, err := st.ApplyFrame(testutil.FrameOf(float64(i), s)); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}

		n := len(st.History(V1))
		for _, ch := range Channels() {
			if got := len(st.History(ch)); got != n {
				t.Fatalf("frame %d: %s has %d samples, V1 has %d", i, ch, got, n)
			}
		}
	}
}

func TestStateSnapshot(t *testing.T) {
	st := NewState(Options{WindowSize: 4, MaxBufferLength: 100})
	for i := 0; i < 10; i++ {
		st.ApplyFrame(testutil.ConstantFrame(float64(i), float64(i)))
	}

	win := st.Snapshot(ModeWindow)
	if win.Length != 10 || win.Frames != 10 || len(win.Channels) != NumChannels {
		t.Fatalf("unexpected snapshot header %+v", win)
	}
	if got := win.Channels[0].Samples; len(got) != 4 || got[3] != 9 {
		t.Errorf("expected window samples ending in 9, got %v", got)
	}
	if win.Channels[3].Channel != "I1" {
		t.Errorf("expected channel I1, got %s", win.Channels[3].Channel)
	}

	hist := st.Snapshot(ModeHistory)
	if got := hist.Channels[0].Samples; len(got) != 10 {
		t.Errorf("expected 10 history samples, got %d", len(got))
	}
	if err := hist.Validate(); err != nil {
		t.Errorf("unexpected invalid snapshot: %v", err)
	}

	if m, err := ParseMode(""); err != nil || m != ModeWindow {
		t.Errorf("expected default window mode, got %v, %v", m, err)
	}
	if _, err := ParseMode("zoom"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestStateConcurrentReadersSeeConsistentWindows(t *testing.T) {
	st := NewState(Options{WindowSize: 50, MaxBufferLength: 300})

	gt := testutil.NewGoroutineTestWithTimeout(t, 10*time.Second)
	defer gt.Wait()

	const frames = 20000
	done := make(chan struct{})

	gt.Go(func() error {
		defer close(done)
		rng := rand.New(rand.NewSource(2))
		for i := 0; i < frames; i++ {
			var s [NumChannels]float64
			for ch := range s {
				s[ch] = rng.Float64()*2 - 1
			}
			if _, err := st.ApplyFrame(wire.Frame{Index: float64(i), Samples: s}); err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
			if rng.Intn(64) == 0 {
				time.Sleep(time.Microsecond)
			}
		}
		return nil
	})

	for r := 0; r < 4; r++ {
		seed := int64(10 + r)
		gt.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-done:
					return nil
				default:
				}

				switch rng.Intn(3) {
				case 0:
					snap := st.Snapshot(ModeWindow)
					if err := snap.Validate(); err != nil {
						return err
					}
					for _, cs := range snap.Channels {
						if len(cs.Samples) != cs.Upper-cs.Lower {
							return fmt.Errorf("channel %s: %d samples for window [%d, %d)",
								cs.Channel, len(cs.Samples), cs.Lower, cs.Upper)
						}
					}
				case 1:
					if err := st.Validate(); err != nil {
						return err
					}
				default:
					snap := st.Snapshot(ModeHistory)
					for _, cs := range snap.Channels {
						if len(cs.Samples) != snap.Length {
							return fmt.Errorf("channel %s: %d history samples, length %d",
								cs.Channel, len(cs.Samples), snap.Length)
						}
					}
				}
			}
		})
	}
}

func TestSnapshotJSONNonFinite(t *testing.T) {
	cs := ChannelSnapshot{
		Channel:   "V1",
		Frequency: Value(math.NaN()),
		Samples:   Samples{1.5, math.Inf(1), math.NaN(), -2},
	}

	b, err := json.Marshal(cs)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"channel":"V1","lower":0,"upper":0,"threshold":0,"frequency":null,"samples":[1.5,null,null,-2]}`
	if string(b) != want {
		t.Errorf("expected %s, got %s", want, b)
	}
}
