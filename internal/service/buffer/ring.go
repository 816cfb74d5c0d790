// Package buffer holds the bounded in-memory buffers that consumer sessions write into
package buffer

import (
	"sync"

	models "kadmin/internal/model"
)

// Capacity bounds for a ring
const (
	MinCapacity = 1
	MaxCapacity = 2000
)

// Ring is a fixed-capacity FIFO of buffered messages.
// When full, Add evicts exactly the oldest element before appending.
// Add, Snapshot and Clear all go through the same lock.
type Ring struct {
	items    []models.BufferedMessage
	head     int // index of the oldest element
	size     int
	capacity int
	mu       sync.RWMutex
}

// ClampCapacity limits a requested capacity to [MinCapacity, MaxCapacity]
func ClampCapacity(capacity int) int {
	if capacity < MinCapacity {
		return MinCapacity
	}
	if capacity > MaxCapacity {
		return MaxCapacity
	}
	return capacity
}

// NewRing creates a ring; capacity is clamped and immutable afterwards
func NewRing(capacity int) *Ring {
	capacity = ClampCapacity(capacity)
	return &Ring{
		items:    make([]models.BufferedMessage, capacity),
		capacity: capacity,
	}
}

// Add appends msg at the tail, evicting the oldest element when full
func (r *Ring) Add(msg models.BufferedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size >= r.capacity {
		r.items[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return
	}

	r.items[(r.head+r.size)%r.capacity] = msg
	r.size++
}

// Snapshot returns a point-in-time copy ordered oldest to newest
func (r *Ring) Snapshot() []models.BufferedMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.BufferedMessage, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%r.capacity]
	}
	return out
}

// Newest returns the most recently added element
func (r *Ring) Newest() (models.BufferedMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return models.BufferedMessage{}, false
	}
	return r.items[(r.head+r.size-1)%r.capacity], true
}

// Clear drops every element; the backing array is replaced so payloads can be collected
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = make([]models.BufferedMessage, r.capacity)
	r.head = 0
	r.size = 0
}

// Len returns the number of buffered elements
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the fixed capacity
func (r *Ring) Cap() int {
	return r.capacity
}
