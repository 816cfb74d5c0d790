// Package pool keeps one consumer session and message buffer per key and
// reclaims the ones nobody has read from for a while.
package pool

import (
	"sync/atomic"
	"time"
)

// TimedEntry wraps a value with the time it was last accessed
type TimedEntry[T any] struct {
	value        T
	lastAccessed atomic.Int64
	now          func() time.Time
}

// NewTimedEntry creates an entry whose last access is now
func NewTimedEntry[T any](value T, now func() time.Time) *TimedEntry[T] {
	if now == nil {
		now = time.Now
	}
	e := &TimedEntry[T]{value: value, now: now}
	e.lastAccessed.Store(now().UnixMilli())
	return e
}

// Peek returns the value without touching the access time
func (e *TimedEntry[T]) Peek() T {
	return e.value
}

// Access returns the value and marks it used now
func (e *TimedEntry[T]) Access() T {
	e.lastAccessed.Store(e.now().UnixMilli())
	return e.value
}

// IdleFor returns how long ago the value was last accessed
func (e *TimedEntry[T]) IdleFor() time.Duration {
	return time.Duration(e.now().UnixMilli()-e.lastAccessed.Load()) * time.Millisecond
}

// LastAccessed returns the last access time in unix milliseconds
func (e *TimedEntry[T]) LastAccessed() int64 {
	return e.lastAccessed.Load()
}
