package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.FrameApplied(10, time.Microsecond)
	c.FrameApplied(11, time.Microsecond)
	c.Compacted(9950)
	c.SessionEnded("protocol")
	c.SessionEnded("none")
	c.AddBytes(104, 48)

	if got := testutil.ToFloat64(c.frames); got != 2 {
		t.Errorf("expected frames=2, got %v", got)
	}
	if got := testutil.ToFloat64(c.bufferLength); got != 11 {
		t.Errorf("expected buffer_length=11, got %v", got)
	}
	if got := testutil.ToFloat64(c.trimmed); got != 9950 {
		t.Errorf("expected trimmed=9950, got %v", got)
	}
	if got := testutil.ToFloat64(c.sessionErrors.WithLabelValues("protocol")); got != 1 {
		t.Errorf("expected protocol errors=1, got %v", got)
	}
	if got := testutil.ToFloat64(c.bytesIn); got != 104 {
		t.Errorf("expected bytes in=104, got %v", got)
	}
}

func TestCollectorPhase(t *testing.T) {
	c := NewCollector()

	c.SetPhase("listening")
	c.SetPhase("exchanging")

	if got := testutil.ToFloat64(c.phase.WithLabelValues("exchanging")); got != 1 {
		t.Errorf("expected exchanging=1, got %v", got)
	}
	if n := testutil.CollectAndCount(c.phase); n != 1 {
		t.Errorf("expected one phase series, got %d", n)
	}
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector()
	c.SessionStarted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "powerscope_sessions_total 1") {
		t.Errorf("expected sessions_total in output, got:\n%s", body)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector

	c.FrameApplied(1, 0)
	c.Compacted(1)
	c.SetPhase("closed")
	c.RowDropped()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("expected 404 from nil collector, got %d", rec.Code)
	}
}
