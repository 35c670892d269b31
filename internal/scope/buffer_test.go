package scope

import (
	"testing"

	"github.com/xtxerr/powerscope/internal/errors"
)

func filled(n int) *ChannelBuffer {
	b := NewChannelBuffer(0, n)
	for i := 0; i < n; i++ {
		b.Append(float64(i))
	}
	return b
}

func TestChannelBufferAppendAndSlice(t *testing.T) {
	b := filled(10)

	if b.Len() != 10 {
		t.Fatalf("expected len=10, got %d", b.Len())
	}

	s := b.Slice(2, 5)
	if len(s) != 3 || s[0] != 2 || s[2] != 4 {
		t.Errorf("expected [2 3 4], got %v", s)
	}

	// Slices are copies.
	s[0] = 99
	if b.Slice(2, 3)[0] != 2 {
		t.Error("expected Slice to return a copy")
	}

	if got := b.Slice(-5, 100); len(got) != 10 {
		t.Errorf("expected clamped slice of 10, got %d", len(got))
	}
	if got := b.Slice(7, 3); len(got) != 0 {
		t.Errorf("expected empty slice for inverted bounds, got %v", got)
	}
}

func TestChannelBufferTrimPrefix(t *testing.T) {
	b := filled(100)
	b.SetWindow(60, 90)

	b.TrimPrefix(50)

	if b.Len() != 50 {
		t.Errorf("expected len=50, got %d", b.Len())
	}
	lower, upper := b.Window()
	if lower != 10 || upper != 40 {
		t.Errorf("expected window [10, 40), got [%d, %d)", lower, upper)
	}
	if v := b.Slice(0, 1)[0]; v != 50 {
		t.Errorf("expected first sample 50, got %v", v)
	}
	if err := b.Validate(); err != nil {
		t.Errorf("unexpected invariant violation: %v", err)
	}
}

func TestChannelBufferTrimPrefixClampsWindow(t *testing.T) {
	b := filled(20)
	b.SetWindow(2, 8)

	b.TrimPrefix(5)

	lower, upper := b.Window()
	if lower != 0 || upper != 3 {
		t.Errorf("expected window [0, 3), got [%d, %d)", lower, upper)
	}
}

func TestChannelBufferTrimWholeBuffer(t *testing.T) {
	b := filled(20)
	b.SetWindow(20, 20)

	b.TrimPrefix(25)

	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got len=%d", b.Len())
	}
	if lower, upper := b.Window(); lower != 0 || upper != 0 {
		t.Errorf("expected window [0, 0), got [%d, %d)", lower, upper)
	}
}

func TestChannelBufferValidate(t *testing.T) {
	b := filled(5)

	b.SetWindow(3, 2)
	if err := b.Validate(); !errors.IsInvariantViolation(err) {
		t.Errorf("expected invariant violation for lower > upper, got %v", err)
	}

	b.SetWindow(0, 6)
	if err := b.Validate(); !errors.IsInvariantViolation(err) {
		t.Errorf("expected invariant violation for upper > len, got %v", err)
	}

	b.SetWindow(0, 5)
	if err := b.Validate(); err != nil {
		t.Errorf("expected valid window, got %v", err)
	}
}

func TestParseChannel(t *testing.T) {
	for _, ch := range Channels() {
		got, err := ParseChannel(ch.String())
		if err != nil || got != ch {
			t.Errorf("expected %s, got %v, %v", ch, got, err)
		}
	}

	if ch, err := ParseChannel(" i2 "); err != nil || ch != I2 {
		t.Errorf("expected I2, got %v, %v", ch, err)
	}
	if _, err := ParseChannel("V4"); !errors.Is(err, errors.ErrInvalidChannel) {
		t.Errorf("expected invalid channel error, got %v", err)
	}
	if !V3.IsVoltage() || I1.IsVoltage() {
		t.Error("unexpected voltage classification")
	}
}
