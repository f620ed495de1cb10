package security

import (
	"sync"

	audit "paygate/pkg/platform/audit"
)

// RingBuffer holds pending security events in arrival order. A full buffer
// overwrites its oldest entry and counts the loss.
type RingBuffer struct {
	mu      sync.Mutex
	slots   []audit.SecurityEvent
	start   int
	size    int
	dropped int64
}

// NewRingBuffer returns a buffer holding up to capacity events. Non-positive
// capacities fall back to the publisher default.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultBufferSize
	}
	return &RingBuffer{slots: make([]audit.SecurityEvent, capacity)}
}

// Enqueue appends event, evicting the oldest pending event when full.
func (b *RingBuffer) Enqueue(event audit.SecurityEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.slots)
	if b.size == capacity {
		b.slots[b.start] = event
		b.start = (b.start + 1) % capacity
		b.dropped++
		return
	}
	b.slots[(b.start+b.size)%capacity] = event
	b.size++
}

// DequeueBatch removes and returns up to n of the oldest events.
func (b *RingBuffer) DequeueBatch(n int) []audit.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(n, b.size)
	if n <= 0 {
		return nil
	}
	out := make([]audit.SecurityEvent, n)
	for i := range out {
		idx := (b.start + i) % len(b.slots)
		out[i] = b.slots[idx]
		b.slots[idx] = audit.SecurityEvent{}
	}
	b.start = (b.start + n) % len(b.slots)
	b.size -= n
	return out
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped is the number of events evicted since construction.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
