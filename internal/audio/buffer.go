package audio

import (
	"sync"
)

// CaptureBuffer accumulates microphone audio for a single recording.
// It is bounded: once the limit is reached further writes are dropped and
// Truncated reports true. Safe for concurrent use.
type CaptureBuffer struct {
	mu        sync.RWMutex
	data      []byte
	limit     int
	truncated bool
}

// NewCaptureBuffer creates a buffer that holds at most limit bytes.
// A non-positive limit means unbounded.
func NewCaptureBuffer(limit int) *CaptureBuffer {
	return &CaptureBuffer{limit: limit}
}

// Write appends data and returns the number of bytes kept.
func (b *CaptureBuffer) Write(data []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 {
		space := b.limit - len(b.data)
		if space <= 0 {
			b.truncated = b.truncated || len(data) > 0
			return 0
		}
		if len(data) > space {
			data = data[:space]
			b.truncated = true
		}
	}
	b.data = append(b.data, data...)
	return len(data)
}

// Bytes returns a copy of the buffered audio.
func (b *CaptureBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]byte(nil), b.data...)
}

// Len returns the number of buffered bytes.
func (b *CaptureBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Truncated reports whether any audio was dropped because the limit was reached.
func (b *CaptureBuffer) Truncated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.truncated
}

// Clear releases the buffered audio.
func (b *CaptureBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	b.truncated = false
}
