// Package buffer provides the bounded queue between the acquisition
// session and slower consumers such as the recorder.
package buffer

import (
	"sync"
	"sync/atomic"
)

// RingBuffer is a thread-safe circular buffer.
type RingBuffer[T any] struct {
	mu       sync.Mutex
	data     []T
	head     int64 // next write position
	tail     int64 // oldest element
	count    int64
	capacity int64

	pushCount atomic.Int64
	popCount  atomic.Int64
	dropCount atomic.Int64
}

// New creates a RingBuffer with the given capacity.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: int64(capacity),
	}
}

// Push adds v. It returns false and drops v if the buffer is full.
func (rb *RingBuffer[T]) Push(v T) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count >= rb.capacity {
		rb.dropCount.Add(1)
		return false
	}
	rb.pushLocked(v)
	return true
}

// PushOverwrite adds v, dropping the oldest element if the buffer is full.
// It reports whether an element was dropped.
func (rb *RingBuffer[T]) PushOverwrite(v T) (dropped bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count >= rb.capacity {
		var zero T
		rb.data[rb.tail%rb.capacity] = zero
		rb.tail++
		rb.count--
		rb.dropCount.Add(1)
		dropped = true
	}
	rb.pushLocked(v)
	return dropped
}

func (rb *RingBuffer[T]) pushLocked(v T) {
	rb.data[rb.head%rb.capacity] = v
	rb.head++
	rb.count++
	rb.pushCount.Add(1)
}

// Pop removes and returns the oldest element.
func (rb *RingBuffer[T]) Pop() (T, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	if rb.count == 0 {
		return zero, false
	}

	idx := rb.tail % rb.capacity
	v := rb.data[idx]
	rb.data[idx] = zero
	rb.tail++
	rb.count--
	rb.popCount.Add(1)
	return v, true
}

// PopN removes and returns up to n oldest elements, oldest first.
func (rb *RingBuffer[T]) PopN(n int) []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 || n <= 0 {
		return nil
	}

	count := min(int64(n), rb.count)

	var zero T
	out := make([]T, count)
	for i := int64(0); i < count; i++ {
		idx := (rb.tail + i) % rb.capacity
		out[i] = rb.data[idx]
		rb.data[idx] = zero
	}

	rb.tail += count
	rb.count -= count
	rb.popCount.Add(count)
	return out
}

// Len returns the number of queued elements.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return int(rb.count)
}

// Cap returns the capacity.
func (rb *RingBuffer[T]) Cap() int {
	return int(rb.capacity)
}

// Clear drops all queued elements.
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	clear(rb.data)
	rb.head = 0
	rb.tail = 0
	rb.count = 0
}

// Stats returns buffer statistics.
func (rb *RingBuffer[T]) Stats() Stats {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return Stats{
		Capacity:   int(rb.capacity),
		Count:      int(rb.count),
		UsageRatio: float64(rb.count) / float64(rb.capacity),
		PushCount:  rb.pushCount.Load(),
		PopCount:   rb.popCount.Load(),
		DropCount:  rb.dropCount.Load(),
	}
}

// Stats holds buffer statistics.
type Stats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	PopCount   int64
	DropCount  int64
}
