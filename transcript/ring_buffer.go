package transcript

import "sync"

// RingBuffer is a thread-safe ring buffer keeping the most recent entries
type RingBuffer[T any] struct {
	buffer     []T
	size       uint64
	capacity   uint64
	writeIndex uint64
	dropped    uint64
	mu         sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the given capacity
func NewRingBuffer[T any](capacity uint64) *RingBuffer[T] {
	if capacity == 0 {
		panic("capacity must be greater than 0")
	}

	return &RingBuffer[T]{
		buffer:   make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an entry to the buffer, overwriting the oldest entry when full
func (rb *RingBuffer[T]) Add(record T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buffer[rb.writeIndex%rb.capacity] = record
	rb.writeIndex++

	if rb.size < rb.capacity {
		rb.size++
	} else {
		rb.dropped++
	}
}

// Last returns the most recent n records, oldest first
func (rb *RingBuffer[T]) Last(n uint64) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	count := min(n, rb.size)
	if count == 0 {
		return []T{}
	}

	result := make([]T, count)
	startIdx := rb.writeIndex - count
	for i := uint64(0); i < count; i++ {
		result[i] = rb.buffer[(startIdx+i)%rb.capacity]
	}

	return result
}

// All returns every record currently held, oldest first
func (rb *RingBuffer[T]) All() []T {
	return rb.Last(rb.capacity)
}

// Size returns the current number of records in the buffer
func (rb *RingBuffer[T]) Size() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Dropped returns how many records were overwritten since creation
func (rb *RingBuffer[T]) Dropped() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.dropped
}

// Capacity returns the maximum capacity of the buffer
func (rb *RingBuffer[T]) Capacity() uint64 {
	return rb.capacity
}
