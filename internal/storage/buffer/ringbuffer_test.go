package buffer

import (
	"sync"
	"testing"
)

func TestRingBuffer_PushPop(t *testing.T) {
	rb := New[int](5)

	if rb.Cap() != 5 {
		t.Errorf("expected capacity=5, got %d", rb.Cap())
	}

	for i := 0; i < 5; i++ {
		if !rb.Push(i) {
			t.Errorf("push %d should succeed", i)
		}
	}
	if rb.Len() != 5 {
		t.Errorf("expected len=5, got %d", rb.Len())
	}

	if rb.Push(999) {
		t.Error("push to full buffer should fail")
	}

	for i := 0; i < 5; i++ {
		v, ok := rb.Pop()
		if !ok || v != i {
			t.Errorf("expected pop %d, got %d, %v", i, v, ok)
		}
	}

	if _, ok := rb.Pop(); ok {
		t.Error("pop from empty buffer should fail")
	}

	stats := rb.Stats()
	if stats.PushCount != 5 || stats.PopCount != 5 || stats.DropCount != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRingBuffer_PushOverwrite(t *testing.T) {
	rb := New[int](3)

	for i := 0; i < 5; i++ {
		dropped := rb.PushOverwrite(i)
		if want := i >= 3; dropped != want {
			t.Errorf("push %d: expected dropped=%v, got %v", i, want, dropped)
		}
	}

	got := rb.PopN(10)
	if len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Errorf("expected [2 3 4], got %v", got)
	}
	if rb.Stats().DropCount != 2 {
		t.Errorf("expected 2 drops, got %d", rb.Stats().DropCount)
	}
}

func TestRingBuffer_PopNWraps(t *testing.T) {
	rb := New[int](4)

	rb.Push(0)
	rb.Push(1)
	rb.Pop()
	rb.Pop()
	for i := 2; i < 6; i++ {
		rb.Push(i)
	}

	got := rb.PopN(2)
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("expected [2 3], got %v", got)
	}
	if rb.Len() != 2 {
		t.Errorf("expected len=2, got %d", rb.Len())
	}
	if rb.PopN(0) != nil {
		t.Error("expected nil for PopN(0)")
	}

	rb.Clear()
	if rb.Len() != 0 {
		t.Errorf("expected empty buffer after Clear, got %d", rb.Len())
	}
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := New[int](10000)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rb.Push(w*1000 + i)
			}
		}(w)
	}

	popped := 0
	var mu sync.Mutex
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				n := len(rb.PopN(10))
				mu.Lock()
				popped += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if popped+rb.Len() != 4000 {
		t.Errorf("expected 4000 elements accounted for, got %d popped + %d queued", popped, rb.Len())
	}
}
