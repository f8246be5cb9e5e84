package session

import "sync"

// RingBuffer is a fixed-capacity circular buffer of raw output chunks.
// It allows late subscribers to replay recent output. Chunks are the unit
// of storage and eviction: splitting on line boundaries can sever
// multi-byte control sequences and corrupt terminal rendering on replay.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      [][]byte
	capacity int
	pos      int // next write position
	full     bool
}

// NewRingBuffer creates a ring buffer with the given chunk capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		buf:      make([][]byte, capacity),
		capacity: capacity,
	}
}

// Append adds a chunk, evicting the oldest one once at capacity.
func (rb *RingBuffer) Append(chunk []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = chunk
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// Len returns the number of retained chunks.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.full {
		return rb.capacity
	}
	return rb.pos
}

// Snapshot returns the retained chunks in arrival order.
func (rb *RingBuffer) Snapshot() [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([][]byte, rb.pos)
		copy(result, rb.buf[:rb.pos])
		return result
	}

	result := make([][]byte, rb.capacity)
	copy(result, rb.buf[rb.pos:])
	copy(result[rb.capacity-rb.pos:], rb.buf[:rb.pos])
	return result
}

// Bytes concatenates the retained chunks into one replayable stream.
func (rb *RingBuffer) Bytes() []byte {
	chunks := rb.Snapshot()

	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	out := make([]byte, 0, size)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
