// Package waveform implements the bounded per-channel sample history shared
// between the real-time loop and display/logging consumers.
package waveform

import (
	"sync"
	"time"
)

// Sample is a single timestamped sensor reading. Immutable once created.
type Sample struct {
	Time    time.Time
	Channel string
	Value   float64
	Valid   bool
}

// Buffer is a fixed-capacity ring of samples for one channel. The coordinator
// loop is the sole writer; Push overwrites the oldest entry when full and
// never allocates after construction. Readers get copies via Snapshot.
type Buffer struct {
	mu       sync.RWMutex
	samples  []Sample
	head     int // next write position
	count    int
	capacity int
	dropped  uint64 // total overwritten entries
}

// NewBuffer creates a ring buffer with the given capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		samples:  make([]Sample, capacity),
		capacity: capacity,
	}
}

// Push appends a sample, evicting the oldest when the buffer is full.
func (b *Buffer) Push(s Sample) {
	b.mu.Lock()
	b.samples[b.head] = s
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	} else {
		b.dropped++
	}
	b.mu.Unlock()
}

// Snapshot returns a copy of the buffered samples in push order, oldest first.
func (b *Buffer) Snapshot() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Sample, b.count)
	if b.count < b.capacity {
		copy(result, b.samples[:b.count])
	} else {
		// Buffer is full: oldest entry sits at head.
		n := copy(result, b.samples[b.head:])
		copy(result[n:], b.samples[:b.head])
	}
	return result
}

// Tail returns a copy of the n most recent samples in push order. When fewer
// than n samples are buffered, all of them are returned.
func (b *Buffer) Tail(n int) []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}

	result := make([]Sample, n)
	start := (b.head - n + b.capacity) % b.capacity
	if start+n <= b.capacity {
		copy(result, b.samples[start:start+n])
	} else {
		m := copy(result, b.samples[start:])
		copy(result[m:], b.samples[:n-m])
	}
	return result
}

// Latest returns the most recently pushed sample, or false if empty.
func (b *Buffer) Latest() (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return Sample{}, false
	}
	idx := (b.head - 1 + b.capacity) % b.capacity
	return b.samples[idx], true
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Capacity returns the fixed capacity of the buffer.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Dropped returns the total number of samples evicted by overwrites.
func (b *Buffer) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
