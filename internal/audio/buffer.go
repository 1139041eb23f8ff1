package audio

import (
	"sync"
)

// RingBuffer is a thread-safe byte ring used to cut an arbitrary stream of
// audio chunks into fixed-size frames
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size.
// One slot stays empty to tell full from empty, so capacity is size-1 bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size < 2 {
		size = 2
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data and returns how many bytes fit; the rest is dropped
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for _, b := range data {
		if (rb.write+1)%rb.size == rb.read {
			break // Buffer full
		}
		rb.buffer[rb.write] = b
		rb.write = (rb.write + 1) % rb.size
		written++
	}
	return written
}

// ReadFrame fills frame completely, or reads nothing and returns false
// when fewer than len(frame) bytes are buffered
func (rb *RingBuffer) ReadFrame(frame []byte) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.availableLocked() < len(frame) {
		return false
	}
	for i := range frame {
		frame[i] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
	}
	return true
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
