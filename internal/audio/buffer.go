package audio

import (
	"sync"
)

// RingBuffer is a thread-safe ring buffer for captured audio bytes. It
// stages raw device output between the capture pump and the fixed-interval
// chunk emitter
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write writes data to the ring buffer.
// Returns the number of bytes written (may be less than len(data) if buffer is full)
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for written < len(data) {
		// One past write being read means full
		if (rb.write+1)%rb.size == rb.read {
			break
		}

		var limit int
		if rb.read > rb.write {
			limit = rb.read - 1
		} else if rb.read == 0 {
			limit = rb.size - 1
		} else {
			limit = rb.size
		}

		n := copy(rb.buffer[rb.write:limit], data[written:])
		if n == 0 {
			break
		}
		rb.write = (rb.write + n) % rb.size
		written += n
	}

	return written
}

// Read reads data from the ring buffer.
// Returns the number of bytes read
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.readLocked(data)
}

func (rb *RingBuffer) readLocked(data []byte) int {
	read := 0
	for read < len(data) {
		if rb.read == rb.write {
			break
		}

		limit := rb.write
		if rb.read > rb.write {
			limit = rb.size
		}

		n := copy(data[read:], rb.buffer[rb.read:limit])
		if n == 0 {
			break
		}
		rb.read = (rb.read + n) % rb.size
		read += n
	}

	return read
}

// Drain returns everything currently buffered as a freshly allocated
// slice, or nil if the buffer is empty. Used by the chunk emitter on each
// tick
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := rb.availableLocked()
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	rb.readLocked(out)
	return out
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.availableLocked()
}

func (rb *RingBuffer) availableLocked() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.write = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.read == rb.write
}

// IsFull returns true if the buffer is full
func (rb *RingBuffer) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return (rb.write+1)%rb.size == rb.read
}

// Concat joins chunks into one contiguous buffer in order. Returns nil for
// an empty chunk list
func Concat(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return nil
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
